// Package llm turns transcript text into structured data using a language-model backend.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
	"github.com/GriffinCanCode/voicenote/internal/resilience"
	"github.com/GriffinCanCode/voicenote/internal/trace"
	"github.com/GriffinCanCode/voicenote/pkg/wire"
)

// Completer sends one prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, req *wire.CompleteRequest) (string, error)
}

// Config controls model calls. Temperature defaults to 0 so repeated runs agree.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Retry       resilience.RetryConfig
}

// DefaultConfig returns deterministic settings with the short live-recording retry policy.
func DefaultConfig() Config {
	return Config{MaxTokens: 1024, Retry: resilience.LLMRetryConfig()}
}

// Fields are the per-contact attributes the model may fill in.
type Fields struct {
	Phone     string   `json:"phone,omitempty"`
	Email     string   `json:"email,omitempty"`
	Location  string   `json:"location,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// Entities is the extraction result for one contact (or for the speaker's note as a whole).
type Entities struct {
	Fields          Fields   `json:"fields"`
	Tags            []string `json:"tags,omitempty"`
	Groups          []string `json:"groups,omitempty"`
	LastContactDate string   `json:"lastContactDate,omitempty"`
}

// Empty reports whether the model found nothing.
func (e *Entities) Empty() bool {
	return e == nil || (e.Fields.Phone == "" && e.Fields.Email == "" && e.Fields.Location == "" &&
		e.Fields.Notes == "" && len(e.Fields.Interests) == 0 && len(e.Tags) == 0 &&
		len(e.Groups) == 0 && e.LastContactDate == "")
}

// Extractor runs the name and entity prompts.
type Extractor struct {
	completer Completer
	cfg       Config
}

// NewExtractor creates an extractor over c.
func NewExtractor(c Completer, cfg Config) *Extractor {
	if cfg.Retry.IsRetryable == nil {
		cfg.Retry.IsRetryable = resilience.IsRetryableGRPC
	}
	return &Extractor{completer: c, cfg: cfg}
}

// ExtractNames returns the person names mentioned in transcript.
func (e *Extractor) ExtractNames(ctx context.Context, transcript string) ([]string, error) {
	raw, err := e.complete(ctx, namesSystemPrompt, buildNamesPrompt(transcript))
	if err != nil {
		return nil, err
	}

	var out struct {
		Names []string `json:"names"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(out.Names))
	seen := make(map[string]bool, len(out.Names))
	for _, n := range out.Names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, n)
	}
	return names, nil
}

// ExtractEntities pulls contact attributes from transcript. When contact is nil the
// prompt asks for information about whoever the note is about.
func (e *Extractor) ExtractEntities(ctx context.Context, transcript string, contact *contacts.Contact) (*Entities, error) {
	raw, err := e.complete(ctx, entitiesSystemPrompt, buildEntitiesPrompt(transcript, contact))
	if err != nil {
		return nil, err
	}

	var out Entities
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Extractor) complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "llm.complete")
	defer span.End()

	req := &wire.CompleteRequest{
		System:         system,
		Prompt:         prompt,
		Model:          e.cfg.Model,
		Temperature:    float32(e.cfg.Temperature),
		MaxTokens:      int32(e.cfg.MaxTokens),
		ResponseFormat: wire.FormatJSON,
	}

	retry := e.cfg.Retry
	isRetryable := retry.IsRetryable
	retry.IsRetryable = func(err error) bool {
		return !errors.Is(err, resilience.ErrOpen) && isRetryable(err)
	}

	var content string
	err := resilience.Retry(ctx, retry, func() error {
		var err error
		content, err = e.completer.Complete(ctx, req)
		return err
	})
	if err != nil {
		span.SetAttr("error", err.Error())
		return "", classify(err)
	}
	return content, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, resilience.ErrOpen):
		return apperrors.Wrap(err, apperrors.CodeLLMAPIError, "language model unavailable")
	case errors.Is(err, context.Canceled):
		return apperrors.Wrap(err, apperrors.CodeCancelled, "completion cancelled")
	case status.Code(err) == codes.ResourceExhausted:
		return apperrors.Wrap(err, apperrors.CodeLLMRateLimited, "language model rate limited")
	default:
		return apperrors.Wrap(err, apperrors.CodeLLMAPIError, "completion failed")
	}
}

// decodeJSON parses a model reply, tolerating markdown fences and prose around the object.
func decodeJSON(raw string, v any) error {
	s := stripCodeFence(raw)
	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start >= 0 && end > start {
		s = s[start : end+1]
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return apperrors.Wrap(err, apperrors.CodeLLMInvalidResponse, "model returned malformed JSON")
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
