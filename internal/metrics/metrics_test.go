package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	m := New()
	require.NotNil(t, m.Gatherer())

	m.QueueDepth.WithLabelValues("1").Set(3)
	m.FramesSent.WithLabelValues("1").Inc()

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["trakbridge_queue_depth"])
	assert.True(t, names["trakbridge_frames_sent_total"])
}
