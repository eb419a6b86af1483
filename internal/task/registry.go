package task

import (
	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/generation"
)

// Registry maps task types to the transform that executes them. It replaces
// open-ended dynamic dispatch with a fixed type-to-handler table built once
// at startup; it is not safe for concurrent registration.
type Registry struct {
	transformers map[domain.TaskType]generation.Transformer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		transformers: make(map[domain.TaskType]generation.Transformer),
	}
}

// Register binds a transform to a task type, replacing any previous binding.
func (r *Registry) Register(taskType domain.TaskType, transformer generation.Transformer) {
	r.transformers[taskType] = transformer
}

// Lookup returns the transform for the given task type.
func (r *Registry) Lookup(taskType domain.TaskType) (generation.Transformer, bool) {
	t, ok := r.transformers[taskType]
	return t, ok
}

// Types returns the registered task types. The resumption scan only
// considers tasks whose type has a registered transform.
func (r *Registry) Types() []domain.TaskType {
	types := make([]domain.TaskType, 0, len(r.transformers))
	for t := range r.transformers {
		types = append(types, t)
	}
	return types
}
