package gemini

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunr-app/taskforge/internal/config"
	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/generation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewGeminiTransformer_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("nil logger", func(t *testing.T) {
		_, err := NewGeminiTransformer(ctx, nil, config.LLMConfig{
			GeminiAPIKey: "key",
			ModelName:    "gemini-2.0-flash",
		})
		assert.Error(t, err)
	})

	t.Run("missing API key", func(t *testing.T) {
		_, err := NewGeminiTransformer(ctx, testLogger(), config.LLMConfig{
			ModelName: "gemini-2.0-flash",
		})
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})

	t.Run("missing model name", func(t *testing.T) {
		_, err := NewGeminiTransformer(ctx, testLogger(), config.LLMConfig{
			GeminiAPIKey: "key",
		})
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})
}

func TestBuildPrompt(t *testing.T) {
	snapshot := json.RawMessage(`{"cv":"plumber, 10 years","job":"senior plumber at Pipeworks"}`)

	for _, taskType := range []domain.TaskType{
		domain.TaskTypeCVRewrite,
		domain.TaskTypeATSAnalysis,
		domain.TaskTypeCoverLetter,
	} {
		t.Run(string(taskType), func(t *testing.T) {
			prompt, err := buildPrompt(taskType, snapshot)
			require.NoError(t, err)
			assert.Contains(t, prompt, "plumber, 10 years", "snapshot content must appear in the prompt")
			assert.Contains(t, prompt, "JSON only", "every prompt requests a JSON answer")
		})
	}
}

func TestBuildPrompt_UnknownType(t *testing.T) {
	_, err := buildPrompt(domain.TaskType("summon_demon"), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestBuildPrompt_InvalidSnapshot(t *testing.T) {
	_, err := buildPrompt(domain.TaskTypeCVRewrite, json.RawMessage(`{not json`))
	assert.Error(t, err)
}
