package vu_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/vu"
)

func TestVirtualUserLifecycle(t *testing.T) {
	v := vu.New(7)
	assert.Equal(t, vu.StateIdle, v.State())
	assert.False(t, v.ShouldStop())

	assert.True(t, v.Start(time.Now()))
	assert.Equal(t, vu.StateRunning, v.State())
	assert.False(t, v.Start(time.Now()), "already running")

	v.RequestDrain()
	v.RequestDrain()
	assert.Equal(t, vu.StateDraining, v.State())
	assert.True(t, v.ShouldStop())

	v.MarkIdle()
	assert.Equal(t, vu.StateIdle, v.State())
	assert.False(t, v.Start(time.Now()), "finished VUs cannot restart")
}

func TestVirtualUserStartedAt(t *testing.T) {
	v := vu.New(1)
	assert.True(t, v.StartedAt().IsZero())

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, v.Start(at))
	assert.Equal(t, at, v.StartedAt())
}

func TestVirtualUserData(t *testing.T) {
	v := vu.New(1)
	v.SetData("token", "abc")

	got, ok := v.GetData("token")
	assert.True(t, ok)
	assert.Equal(t, "abc", got)

	_, ok = v.GetData("missing")
	assert.False(t, ok)

	copied := v.Data()
	copied["token"] = "changed"
	got, _ = v.GetData("token")
	assert.Equal(t, "abc", got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", vu.StateIdle.String())
	assert.Equal(t, "running", vu.StateRunning.String())
	assert.Equal(t, "draining", vu.StateDraining.String())
	assert.Equal(t, "unknown", vu.State(42).String())
}
