package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/genai"

	"github.com/teemow/calagent/internal/events"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

// Outcome classifies how the model response was interpreted.
type Outcome string

const (
	// OutcomeExtracted means the body parsed as a list of events (possibly empty).
	OutcomeExtracted Outcome = "extracted"
	// OutcomeEmpty means the model returned an empty or whitespace body.
	OutcomeEmpty Outcome = "empty"
	// OutcomeMalformed means the body was not valid JSON for the event schema.
	OutcomeMalformed Outcome = "malformed"
)

// Extraction is the result of one model call.
type Extraction struct {
	Records []events.Record
	Outcome Outcome
}

const instructionTemplate = `You are a meticulous calendar scheduling assistant.
Analyze ALL of the provided content (text and/or document) and extract one or more events.

Event extraction rules (return the events as a JSON array):
1. The START and END date/times (start_datetime and end_datetime) are MANDATORY for EVERY event.
2. The format must be strictly ISO 8601 (YYYY-MM-DDTHH:MM:SS).
3. If a time range crosses midnight (e.g. 22:00 to 03:00), the end date must be the following day.
4. If no duration is stated, use a duration of one hour (60 minutes).
5. Take the current date and time into account. The current time zone is: %s. The current local date and time is: %s (%s).`

// SystemInstruction renders the extraction policy for a time zone and the
// current instant in that zone.
func SystemInstruction(timezone string, now time.Time) string {
	return fmt.Sprintf(instructionTemplate, timezone, now.Format(events.Layout), now.Weekday())
}

// EventsSchema is the response schema: an array of objects with required
// summary, start_datetime and end_datetime strings.
func EventsSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"summary": {
					Type:        genai.TypeString,
					Description: "Title or summary of the event, without the date and time details.",
				},
				"start_datetime": {
					Type:        genai.TypeString,
					Description: "Start time in YYYY-MM-DDTHH:MM:SS format (ISO 8601).",
				},
				"end_datetime": {
					Type:        genai.TypeString,
					Description: "End time in YYYY-MM-DDTHH:MM:SS format (ISO 8601).",
				},
			},
			Required:         []string{"summary", "start_datetime", "end_datetime"},
			PropertyOrdering: []string{"summary", "start_datetime", "end_datetime"},
		},
	}
}

// Extractor calls the model with the fixed extraction contract.
type Extractor struct {
	models  ContentGenerator
	model   string
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithModel overrides DefaultModel.
func WithModel(model string) ExtractorOption {
	return func(e *Extractor) {
		if model != "" {
			e.model = model
		}
	}
}

// WithExtractorClock sets the clock used for "now" in the instruction.
func WithExtractorClock(c clockwork.Clock) ExtractorOption {
	return func(e *Extractor) { e.clock = c }
}

// WithExtractorLogger sets the logger.
func WithExtractorLogger(l *slog.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// WithExtractorMetrics sets the metrics recorder.
func WithExtractorMetrics(m *instrumentation.Metrics) ExtractorOption {
	return func(e *Extractor) { e.metrics = m }
}

// NewExtractor creates an Extractor backed by models.
func NewExtractor(models ContentGenerator, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		models: models,
		model:  DefaultModel,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract sends payload to the model and parses the structured response.
// The payload is released before Extract returns, whatever the result.
// Empty or malformed model output yields zero records and a nil error;
// provider failures are wrapped in ErrExtractionService.
func (e *Extractor) Extract(ctx context.Context, payload *Payload, timezone string) (*Extraction, error) {
	defer payload.Release(ctx)

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", timezone, err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(SystemInstruction(timezone, e.clock.Now().In(loc)))},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   EventsSchema(),
	}

	var resp *genai.GenerateContentResponse
	err = track(ctx, e.metrics, instrumentation.OperationGenerate, func(ctx context.Context) error {
		var err error
		resp, err = e.models.GenerateContent(ctx, e.model, payload.Contents(), config)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionService, err)
	}

	body := ""
	if resp != nil {
		body = resp.Text()
	}

	records, outcome := ParseRecords(body)

	source := "text"
	if payload.HasAttachment() {
		source = "attachment"
	}
	e.metrics.RecordEventsExtracted(ctx, string(outcome), source, len(records))

	logger := logging.WithOperation(e.logger, "extract_events")
	switch outcome {
	case OutcomeMalformed:
		logger.Warn("model returned malformed JSON, treating as no events", "body_length", len(body))
	case OutcomeEmpty:
		logger.Info("model returned an empty response")
	default:
		logger.Debug("events extracted", "count", len(records), "source", source)
	}

	return &Extraction{Records: records, Outcome: outcome}, nil
}

// ParseRecords interprets a model response body. It accepts a JSON array of
// events, a single event object, and either wrapped in a Markdown code fence.
func ParseRecords(body string) ([]events.Record, Outcome) {
	body = strings.TrimSpace(body)
	if body == "" {
		return []events.Record{}, OutcomeEmpty
	}
	body = stripCodeFence(body)

	var records []events.Record
	if err := json.Unmarshal([]byte(body), &records); err == nil {
		if records == nil {
			records = []events.Record{}
		}
		return records, OutcomeExtracted
	}

	var single events.Record
	if err := json.Unmarshal([]byte(body), &single); err == nil && single != (events.Record{}) {
		return []events.Record{single}, OutcomeExtracted
	}

	return []events.Record{}, OutcomeMalformed
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
