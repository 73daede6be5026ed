package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlugin struct{}

func (fakePlugin) Metadata() Metadata { return Metadata{ID: "fake"} }
func (fakePlugin) ValidateConfig(map[string]interface{}) []FieldError { return nil }
func (fakePlugin) Fetch(context.Context, map[string]interface{}) ([]Location, error) { return nil, nil }
func (fakePlugin) TestConnection(context.Context, map[string]interface{}) (HealthReport, error) {
	return HealthReport{OK: true}, nil
}

func TestRegistry_BuiltinAlwaysAllowed(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterBuiltin("fake", func() Plugin { return fakePlugin{} }))
	assert.True(t, r.Has("fake"))

	p, err := r.New("fake")
	require.NoError(t, err)
	assert.Equal(t, "fake", p.Metadata().ID)
}

func TestRegistry_ExternalRejectsOutsideAllowlist(t *testing.T) {
	r := NewRegistry([]string{"allowed_one"})
	err := r.RegisterExternal("not_allowed", func() Plugin { return fakePlugin{} })
	assert.Error(t, err)

	err = r.RegisterExternal("allowed_one", func() Plugin { return fakePlugin{} })
	assert.NoError(t, err)
}

func TestRegistry_ExternalRejectsPathTraversal(t *testing.T) {
	r := NewRegistry([]string{"../etc/passwd"})
	err := r.RegisterExternal("../etc/passwd", func() Plugin { return fakePlugin{} })
	assert.Error(t, err)
}

func TestRegistry_UnknownIdentifier(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.New("nope")
	assert.Error(t, err)
}
