package generation

import (
	"context"
	"encoding/json"

	"github.com/jobrunr-app/taskforge/internal/domain"
)

// Transformer defines the interface for the opaque long-running AI call at
// the heart of every task. This interface serves as a boundary between the
// orchestrator core and external AI/LLM services.
//
// Implementations must be safely re-invokable with identical inputs: the
// resumption protocol re-runs interrupted tasks from their stored input
// snapshot, so a transform that is not re-runnable would break recovery.
type Transformer interface {
	// Transform performs the transformation for the given task type using
	// the immutable input snapshot captured at task creation.
	//
	// Returns the opaque result payload or an error classified via the
	// sentinel errors in this package.
	Transform(ctx context.Context, taskType domain.TaskType, inputSnapshot json.RawMessage) (json.RawMessage, error)
}

// TransformFunc adapts a plain function to the Transformer interface.
type TransformFunc func(ctx context.Context, taskType domain.TaskType, inputSnapshot json.RawMessage) (json.RawMessage, error)

// Transform calls f.
func (f TransformFunc) Transform(
	ctx context.Context,
	taskType domain.TaskType,
	inputSnapshot json.RawMessage,
) (json.RawMessage, error) {
	return f(ctx, taskType, inputSnapshot)
}
