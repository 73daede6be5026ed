package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_SecondProcessTimesOut(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, time.Second)
	require.NoError(t, err)
	defer first.Release()

	_, err = Acquire(dir, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestAcquire_ReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, time.Second)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := Acquire(dir, time.Second)
	require.NoError(t, err)
	defer second.Release()
}
