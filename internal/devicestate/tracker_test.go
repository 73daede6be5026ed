package devicestate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmit_StrictlyIncreasing(t *testing.T) {
	tr := New(nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.True(t, tr.Admit("D1", base))
	assert.False(t, tr.Admit("D1", base), "same timestamp must be rejected")
	assert.False(t, tr.Admit("D1", base.Add(-time.Second)), "older timestamp must be rejected")
	assert.True(t, tr.Admit("D1", base.Add(time.Second)), "strictly newer must be admitted")
}

func TestAdmit_IndependentPerDevice(t *testing.T) {
	tr := New(nil)
	now := time.Now()

	assert.True(t, tr.Admit("D1", now))
	assert.True(t, tr.Admit("D2", now))
	assert.Equal(t, 2, tr.Snapshot().DeviceCount)
}

func TestForgetOlderThan(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := New(func() time.Time { return clock })

	tr.Admit("D1", clock)
	clock = clock.Add(48 * time.Hour)
	tr.Admit("D2", clock)

	tr.ForgetOlderThan(24 * time.Hour)

	snap := tr.Snapshot()
	assert.Equal(t, 1, snap.DeviceCount)
	_, stillThere := snap.LastSeen["D2"]
	assert.True(t, stillThere)
}
