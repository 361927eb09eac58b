package profile_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wesleyorama2/stampede/internal/profile"
	"github.com/wesleyorama2/stampede/internal/runerr"
)

func TestFlatProfile(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		vus := rapid.IntRange(1, 500).Draw(t, "vus")
		d := time.Duration(rapid.Int64Range(1, int64(time.Hour)).Draw(t, "duration"))
		at := time.Duration(rapid.Int64Range(0, int64(2*time.Hour)).Draw(t, "at"))

		p, err := profile.Flat(vus, d)
		if err != nil {
			t.Fatal(err)
		}

		if at < d {
			if got := p.TargetAt(at); got != vus {
				t.Fatalf("TargetAt(%s) = %d, want %d", at, got, vus)
			}
			if p.IsRunComplete(at) {
				t.Fatalf("IsRunComplete(%s) = true before %s", at, d)
			}
		} else if !p.IsRunComplete(at) {
			t.Fatalf("IsRunComplete(%s) = false after %s", at, d)
		}
	})
}

func TestFlatProfileRejectsInvalid(t *testing.T) {
	_, err := profile.Flat(0, time.Second)
	assert.True(t, errors.Is(err, runerr.ErrConfiguration))

	_, err = profile.Flat(5, 0)
	assert.True(t, errors.Is(err, runerr.ErrConfiguration))
}

func TestRampMidpoint(t *testing.T) {
	p, err := profile.Staged([]profile.Stage{
		{Duration: 30 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 0},
	})
	require.NoError(t, err)

	assert.InDelta(t, 5, p.TargetAt(15*time.Second), 1)
	assert.Equal(t, 0, p.TargetAt(0))
	assert.Equal(t, 10, p.TargetAt(30*time.Second))
	assert.InDelta(t, 5, p.TargetAt(35*time.Second), 1)
	assert.Equal(t, 40*time.Second, p.TotalDuration())
	assert.True(t, p.IsRunComplete(40*time.Second))
	assert.Equal(t, 0, p.TargetAt(41*time.Second))
	assert.Equal(t, 10, p.MaxTarget())
}

func TestConstantStageHoldsPreviousTarget(t *testing.T) {
	p, err := profile.Staged([]profile.Stage{
		{Duration: 10 * time.Second, Target: 20},
		{Duration: 10 * time.Second, Target: 50, Mode: profile.ModeConstant},
		{Duration: 10 * time.Second, Target: 50, Mode: profile.ModeConstant},
	})
	require.NoError(t, err)

	assert.Equal(t, 20, p.TargetAt(12*time.Second))
	assert.Equal(t, 20, p.TargetAt(19*time.Second))
	assert.Equal(t, 50, p.TargetAt(20*time.Second))
	assert.Equal(t, 50, p.TargetAt(29*time.Second))
}

func TestZeroDurationStageIsSkipped(t *testing.T) {
	p, err := profile.Staged([]profile.Stage{{Duration: 0, Target: 10}})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), p.TotalDuration())
	assert.True(t, p.IsRunComplete(0))

	// A zero-duration stage sets the starting point of the next ramp.
	p, err = profile.Staged([]profile.Stage{
		{Duration: 0, Target: 10},
		{Duration: 10 * time.Second, Target: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, p.TargetAt(0))
	assert.Equal(t, 10, p.TargetAt(5*time.Second))
}

func TestStagedValidation(t *testing.T) {
	cases := map[string][]profile.Stage{
		"empty":           nil,
		"negative target": {{Duration: time.Second, Target: -1}},
		"negative time":   {{Duration: -time.Second, Target: 1}},
		"unknown mode":    {{Duration: time.Second, Target: 1, Mode: "zigzag"}},
	}
	for name, stages := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := profile.Staged(stages)
			assert.True(t, errors.Is(err, runerr.ErrConfiguration))
		})
	}
}

func TestStageAt(t *testing.T) {
	p, err := profile.Staged([]profile.Stage{
		{Duration: 5 * time.Second, Target: 5, Name: "warmup"},
		{Duration: 5 * time.Second, Target: 5},
	})
	require.NoError(t, err)

	i, ok := p.StageAt(2 * time.Second)
	assert.True(t, ok)
	assert.Equal(t, 0, i)

	i, ok = p.StageAt(7 * time.Second)
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = p.StageAt(10 * time.Second)
	assert.False(t, ok)
	assert.Equal(t, "warmup", p.Stages()[0].Name)
}

func TestTargetWithinStageBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "n")
		stages := make([]profile.Stage, n)
		for i := range stages {
			stages[i] = profile.Stage{
				Duration: time.Duration(rapid.IntRange(0, 60).Draw(t, "sec")) * time.Second,
				Target:   rapid.IntRange(0, 200).Draw(t, "target"),
				Mode:     profile.Mode(rapid.SampledFrom([]string{"", "ramp", "constant"}).Draw(t, "mode")),
			}
		}
		p, err := profile.Staged(stages)
		if err != nil {
			t.Fatal(err)
		}
		at := time.Duration(rapid.Int64Range(0, int64(p.TotalDuration())+int64(time.Second)).Draw(t, "at"))

		got := p.TargetAt(at)
		if got < 0 || got > p.MaxTarget() {
			t.Fatalf("TargetAt(%s) = %d outside [0, %d]", at, got, p.MaxTarget())
		}
		if p.IsRunComplete(at) && got != 0 {
			t.Fatalf("TargetAt(%s) = %d after completion", at, got)
		}
	})
}

func TestPhaseAt(t *testing.T) {
	p, err := profile.Staged([]profile.Stage{
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 0},
	})
	require.NoError(t, err)

	assert.Equal(t, profile.PhaseRampUp, p.PhaseAt(5*time.Second))
	assert.Equal(t, profile.PhaseSteady, p.PhaseAt(15*time.Second))
	assert.Equal(t, profile.PhaseRampDown, p.PhaseAt(25*time.Second))
	assert.Equal(t, profile.PhaseDone, p.PhaseAt(30*time.Second))

	flat, err := profile.Flat(3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, profile.PhaseSteady, flat.PhaseAt(0))
}
