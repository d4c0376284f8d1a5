package gemini

import (
	"context"
	"fmt"
	"os"
	"time"

	"google.golang.org/genai"

	"github.com/teemow/calagent/internal/instrumentation"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.5-pro"

// FileService is the subset of the Gemini Files API used for attachments.
// *genai.Files satisfies it.
type FileService interface {
	UploadFromPath(ctx context.Context, path string, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

// ContentGenerator is the subset of the Gemini Models API used for extraction.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config holds the Gemini connection settings.
type Config struct {
	// APIKey defaults to GEMINI_API_KEY, then GOOGLE_API_KEY.
	APIKey string

	// Model defaults to DefaultModel.
	Model string
}

// Client bundles the Files and Models services of one Gemini API client.
type Client struct {
	Files  FileService
	Models ContentGenerator
	Model  string
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no Gemini API key: set GEMINI_API_KEY or --gemini-api-key")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		Files:  gc.Files,
		Models: gc.Models,
		Model:  model,
	}, nil
}

// track runs fn inside an upstream span and records its duration.
func track(ctx context.Context, m *instrumentation.Metrics, operation string, fn func(context.Context) error) error {
	ctx, span := instrumentation.StartUpstreamSpan(ctx, instrumentation.ServiceGemini, operation)
	start := time.Now()

	err := fn(ctx)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	m.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGemini, operation, status, time.Since(start))
	instrumentation.EndSpan(span, err)
	return err
}
