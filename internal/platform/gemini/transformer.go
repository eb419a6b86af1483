package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"google.golang.org/genai"

	"github.com/jobrunr-app/taskforge/internal/config"
	"github.com/jobrunr-app/taskforge/internal/domain"
	"github.com/jobrunr-app/taskforge/internal/generation"
)

// GeminiTransformer implements the generation.Transformer interface using
// Google's Gemini API. It is stateless between calls, which keeps Transform
// safely re-invokable with the same input snapshot as the resumption
// protocol requires.
type GeminiTransformer struct {
	logger *slog.Logger
	config config.LLMConfig
	client *genai.Client
	model  string
}

// NewGeminiTransformer creates a new GeminiTransformer with the provided
// dependencies. Returns an error if initialization fails.
func NewGeminiTransformer(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.LLMConfig,
) (*GeminiTransformer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &GeminiTransformer{
		logger: logger.With("component", "gemini_transformer"),
		config: cfg,
		client: client,
		model:  cfg.ModelName,
	}, nil
}

// Transform implements generation.Transformer. It renders the prompt for
// the task type, calls the Gemini API with retries, and returns the model's
// JSON answer as the opaque task result.
func (g *GeminiTransformer) Transform(
	ctx context.Context,
	taskType domain.TaskType,
	inputSnapshot json.RawMessage,
) (json.RawMessage, error) {
	prompt, err := buildPrompt(taskType, inputSnapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrTransformationFailed, err)
	}

	result, err := g.callWithRetry(ctx, taskType, prompt)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// callWithRetry calls the Gemini API with exponential backoff and jitter
// for transient errors. Permanent errors (content blocked, unparseable
// response) return immediately.
func (g *GeminiTransformer) callWithRetry(
	ctx context.Context,
	taskType domain.TaskType,
	prompt string,
) (json.RawMessage, error) {
	maxRetries := g.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}
	baseDelaySeconds := g.config.RetryDelaySeconds
	if baseDelaySeconds < 1 {
		baseDelaySeconds = 2
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		g.logger.InfoContext(ctx, "calling Gemini API",
			"task_type", taskType,
			"attempt", attempt+1,
			"max_attempts", maxRetries+1)

		result, err := g.call(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		g.logger.ErrorContext(ctx, "Gemini API call failed",
			"task_type", taskType,
			"attempt", attempt+1,
			"error", err)

		if errors.Is(err, generation.ErrContentBlocked) ||
			errors.Is(err, generation.ErrInvalidResponse) ||
			errors.Is(err, generation.ErrMissingCredential) {
			return nil, err
		}

		if attempt == maxRetries {
			break
		}

		// delay = baseDelay * 2^attempt * (0.5 + rand(0, 0.5))
		backoff := float64(baseDelaySeconds) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5) * float64(time.Second))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: exceeded %d attempts: %v",
		generation.ErrTransientFailure, maxRetries+1, lastErr)
}

// call makes one API request and classifies the outcome.
func (g *GeminiTransformer) call(ctx context.Context, prompt string) (json.RawMessage, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		// The API surfaces rejected keys as errors rather than responses.
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 401 || apiErr.Code == 403) {
			return nil, fmt.Errorf("%w: %v", generation.ErrMissingCredential, err)
		}
		return nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: empty response text", generation.ErrInvalidResponse)
	}

	// The result stays opaque, but it must at least be valid JSON to store.
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("%w: response is not valid JSON", generation.ErrInvalidResponse)
	}

	return json.RawMessage(text), nil
}

// Ensure GeminiTransformer implements generation.Transformer
var _ generation.Transformer = (*GeminiTransformer)(nil)
