package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	t.Parallel()

	err := New(nil).Category(CategoryContiguity).Build()
	require.NotNil(t, err)
	assert.Equal(t, ComponentUnknown, err.Component)
	assert.Equal(t, CategoryContiguity, err.Category)
}

func TestBuilderContext(t *testing.T) {
	t.Parallel()

	err := New(nil).
		Component("encoder").
		Category(CategoryCodecRPC).
		Context("status", -7).
		Build()

	ctx := err.GetContext()
	require.Contains(t, ctx, "status")
	assert.Equal(t, -7, ctx["status"])
	assert.Equal(t, "encoder", err.Component)
}

func TestIsCategory(t *testing.T) {
	t.Parallel()

	err := New(nil).Category(CategoryConnectivity).Build()
	assert.True(t, IsCategory(err, CategoryConnectivity))
	assert.True(t, IsConnectivityLost(err))
	assert.False(t, IsCategory(err, CategoryFraming))
}

func TestContextIsolated(t *testing.T) {
	t.Parallel()

	err := New(nil).Context("a", 1).Build()
	ctx := err.GetContext()
	ctx["a"] = 2
	assert.Equal(t, 1, err.GetContext()["a"])
}
