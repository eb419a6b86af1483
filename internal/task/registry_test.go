package task

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/generation"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	_, ok := registry.Lookup(domain.TaskTypeCVRewrite)
	assert.False(t, ok)
	assert.Empty(t, registry.Types())

	marker := generation.TransformFunc(
		func(ctx context.Context, taskType domain.TaskType, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`"rewrite"`), nil
		})
	registry.Register(domain.TaskTypeCVRewrite, marker)

	got, ok := registry.Lookup(domain.TaskTypeCVRewrite)
	require.True(t, ok)

	result, err := got.Transform(context.Background(), domain.TaskTypeCVRewrite, nil)
	require.NoError(t, err)
	assert.Equal(t, `"rewrite"`, string(result))

	assert.Equal(t, []domain.TaskType{domain.TaskTypeCVRewrite}, registry.Types())
}
