package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/generation"
	"github.com/phrazzld/labelgen/internal/platform/logger"
	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

// modelsAPI is the subset of *genai.Models used by Backend.
type modelsAPI interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// modelsFactory creates the models API bound to one key.
type modelsFactory func(ctx context.Context, apiKey string) (modelsAPI, error)

// Backend is a generation.Backend calling the Gemini API.
type Backend struct {
	model     string
	logger    *slog.Logger
	newModels modelsFactory

	mu      sync.Mutex
	clients map[string]modelsAPI
}

var _ generation.Backend = (*Backend)(nil)

// NewBackend creates a Backend for the given model.
func NewBackend(model string, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return newBackend(model, logger, newGenAIModels), nil
}

func newBackend(model string, logger *slog.Logger, factory modelsFactory) *Backend {
	return &Backend{
		model:     model,
		logger:    logger.With("component", "gemini_backend", "model", model),
		newModels: factory,
		clients:   make(map[string]modelsAPI),
	}
}

func newGenAIModels(ctx context.Context, apiKey string) (modelsAPI, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return client.Models, nil
}

// Model returns the configured model name.
func (b *Backend) Model() string {
	return b.model
}

// Complete sends prompt to the model with apiKey and returns the reply text.
func (b *Backend) Complete(ctx context.Context, apiKey, prompt string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("%w: empty API key", generation.ErrCredentialRejected)
	}
	log := logger.FromContextOr(ctx, b.logger).With("credential", credential.Fingerprint(apiKey))

	models, err := b.models(ctx, apiKey)
	if err != nil {
		return "", err
	}

	log.DebugContext(ctx, "calling Gemini API", "prompt_length", len(prompt))

	resp, err := models.GenerateContent(ctx, b.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		classified := classifyError(ctx, err)
		log.WarnContext(ctx, "Gemini API call failed", "error", classified)
		return "", classified
	}

	text, err := responseText(resp)
	if err != nil {
		log.WarnContext(ctx, "unusable Gemini response", "error", err)
		return "", err
	}

	log.DebugContext(ctx, "Gemini API call succeeded", "response_length", len(text))
	return text, nil
}

// models returns the cached client for apiKey, creating it on first use.
func (b *Backend) models(ctx context.Context, apiKey string) (modelsAPI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m, ok := b.clients[apiKey]; ok {
		return m, nil
	}
	m, err := b.newModels(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrTransientFailure, err)
	}
	b.clients[apiKey] = m
	return m, nil
}

// responseText extracts the text of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" &&
		fb.BlockReason != genai.BlockedReasonUnspecified {
		return "", fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentBlocked, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent,
		genai.FinishReasonBlocklist, genai.FinishReasonSPII:
		return "", fmt.Errorf("%w: finish reason %s", generation.ErrContentBlocked, candidate.FinishReason)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: response has no text (finish reason %s)",
			generation.ErrInvalidResponse, candidate.FinishReason)
	}
	return sb.String(), nil
}
