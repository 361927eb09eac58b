// Package profile turns a stage list or a flat (vus, duration) pair into a
// time-indexed target VU count.
//
// A Profile is immutable once built and safe for concurrent use.
package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/runerr"
)

// Mode selects how a stage moves between targets.
type Mode string

const (
	// ModeRamp interpolates linearly from the previous target to the stage
	// target over the stage duration.
	ModeRamp Mode = "ramp"
	// ModeConstant holds the previous target for the whole stage; the stage
	// target takes effect when the stage ends.
	ModeConstant Mode = "constant"
)

// ParseMode parses a mode name. The empty string selects ModeRamp.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeRamp, "linear":
		return ModeRamp, nil
	case ModeConstant, "step":
		return ModeConstant, nil
	default:
		return "", fmt.Errorf("unknown stage mode %q (expected ramp or constant)", s)
	}
}

// Stage is one segment of a load profile.
type Stage struct {
	Duration time.Duration
	Target   int
	Mode     Mode
	Name     string
}

// Profile is a validated, immutable load profile.
type Profile struct {
	stages []Stage
	// starts[i] is the offset at which stage i begins.
	starts []time.Duration
	total  time.Duration
	flat   bool
	max    int
}

// Flat returns a profile that runs vus VUs for duration, then ends.
func Flat(vus int, duration time.Duration) (*Profile, error) {
	if vus <= 0 {
		return nil, runerr.Configf("load profile", "vus must be greater than 0, got %d", vus)
	}
	if duration <= 0 {
		return nil, runerr.Configf("load profile", "duration must be positive, got %s", duration)
	}
	return &Profile{
		stages: []Stage{{Duration: duration, Target: vus, Mode: ModeConstant}},
		starts: []time.Duration{0},
		total:  duration,
		flat:   true,
		max:    vus,
	}, nil
}

// Staged returns a profile built from stages. Stages run back to back; the
// first stage starts from a target of 0.
func Staged(stages []Stage) (*Profile, error) {
	if len(stages) == 0 {
		return nil, runerr.Configf("load profile", "at least one stage is required")
	}

	p := &Profile{
		stages: make([]Stage, len(stages)),
		starts: make([]time.Duration, len(stages)),
	}
	for i, s := range stages {
		if s.Duration < 0 {
			return nil, runerr.Configf("load profile", "stages[%d]: duration cannot be negative", i)
		}
		if s.Target < 0 {
			return nil, runerr.Configf("load profile", "stages[%d]: target cannot be negative", i)
		}
		mode, err := ParseMode(string(s.Mode))
		if err != nil {
			return nil, runerr.Config(fmt.Sprintf("load profile: stages[%d]", i), err)
		}
		s.Mode = mode

		p.stages[i] = s
		p.starts[i] = p.total
		p.total += s.Duration
		if s.Target > p.max {
			p.max = s.Target
		}
	}
	return p, nil
}

// TargetAt returns the target VU count at elapsed time t. Once the run is
// complete the target is 0.
func (p *Profile) TargetAt(t time.Duration) int {
	if t < 0 {
		t = 0
	}
	if t >= p.total {
		return 0
	}
	if p.flat {
		return p.stages[0].Target
	}

	prev := 0
	for i, s := range p.stages {
		end := p.starts[i] + s.Duration
		if t >= end {
			prev = s.Target
			continue
		}

		if s.Mode == ModeConstant {
			return prev
		}
		progress := float64(t-p.starts[i]) / float64(s.Duration)
		return int(float64(prev) + float64(s.Target-prev)*progress + 0.5)
	}
	return 0
}

// IsRunComplete reports whether the profile has ended at t.
func (p *Profile) IsRunComplete(t time.Duration) bool {
	return t >= p.total
}

// TotalDuration is the sum of all stage durations.
func (p *Profile) TotalDuration() time.Duration {
	return p.total
}

// StageAt returns the index of the stage active at t.
func (p *Profile) StageAt(t time.Duration) (int, bool) {
	if t < 0 || t >= p.total {
		return 0, false
	}
	for i, s := range p.stages {
		if t < p.starts[i]+s.Duration {
			return i, true
		}
	}
	return 0, false
}

// Phase names the shape of the profile at a point in time.
type Phase string

const (
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// PhaseAt classifies the stage active at t.
func (p *Profile) PhaseAt(t time.Duration) Phase {
	i, ok := p.StageAt(t)
	if !ok {
		if p.IsRunComplete(t) {
			return PhaseDone
		}
		return PhaseSteady
	}
	s := p.stages[i]
	if p.flat || s.Mode == ModeConstant {
		return PhaseSteady
	}
	prev := 0
	if i > 0 {
		prev = p.stages[i-1].Target
	}
	switch {
	case s.Target > prev:
		return PhaseRampUp
	case s.Target < prev:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}

// MaxTarget is the highest target the profile can reach.
func (p *Profile) MaxTarget() int {
	return p.max
}

// Stages returns a copy of the stage list.
func (p *Profile) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// IsFlat reports whether the profile was built with Flat.
func (p *Profile) IsFlat() bool {
	return p.flat
}

// String describes the profile, e.g. "10 VUs for 30s" or "3 stages over 5m0s".
func (p *Profile) String() string {
	if p.flat {
		return fmt.Sprintf("%d VUs for %s", p.stages[0].Target, p.total)
	}
	return fmt.Sprintf("%d stages over %s (max %d VUs)", len(p.stages), p.total, p.max)
}
