// Package proposal turns finalized per-contact entities into an itemized,
// reviewable enrichment proposal and hands it to persistence.
package proposal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/voicenote/internal/enrichment"
	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
	"github.com/GriffinCanCode/voicenote/internal/trace"
)

// Item fields beyond the suggestion types.
const (
	FieldGroup           = "group"
	FieldLastContactDate = "last_contact_date"
)

// Confidence of items the analyzer does not score itself.
const derivedConfidence = 0.6

var itemNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("voicenote:proposal-item"))

// Item is one proposed change to one contact.
type Item struct {
	ID          string  `json:"id"`
	ContactID   string  `json:"contact_id,omitempty"`
	ContactName string  `json:"contact_name,omitempty"`
	Field       string  `json:"field"`
	Value       string  `json:"value"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source,omitempty"`
}

// Proposal groups the items produced by one session.
type Proposal struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Transcript string    `json:"transcript"`
	Items      []Item    `json:"items"`
	CreatedAt  time.Time `json:"created_at"`
}

// Input is what a finalized session provides.
type Input struct {
	SessionID  string
	UserID     string
	Transcript string
	Entities   []enrichment.ContactEntities
}

// Saver persists proposals.
type Saver interface {
	SaveProposal(ctx context.Context, p *Proposal) error
}

// Builder builds and saves proposals. A nil Saver builds without persisting.
type Builder struct {
	saver Saver
	now   func() time.Time
}

// NewBuilder creates a builder.
func NewBuilder(saver Saver) *Builder {
	return &Builder{saver: saver, now: time.Now}
}

// Build itemizes in and saves the result. Persistence failures are PROPOSAL_FAILED.
func (b *Builder) Build(ctx context.Context, in Input) (*Proposal, error) {
	ctx, span := trace.StartSpan(ctx, "proposal.build")
	defer span.End()

	p := &Proposal{
		ID:         uuid.NewString(),
		SessionID:  in.SessionID,
		UserID:     in.UserID,
		Transcript: in.Transcript,
		Items:      Itemize(in.Entities),
		CreatedAt:  b.now().UTC(),
	}
	span.SetAttr("items", len(p.Items))

	if b.saver != nil {
		if err := b.saver.SaveProposal(ctx, p); err != nil {
			span.SetAttr("error", err.Error())
			return nil, apperrors.Wrap(err, apperrors.CodeProposalFailed, "save enrichment proposal").
				WithMetadata("session_id", in.SessionID)
		}
	}
	trace.Logger(ctx).Info("enrichment proposal built", "proposal_id", p.ID, "items", len(p.Items))
	return p, nil
}

// Itemize flattens per-contact entities into items. Suggestions keep their ids and
// confidences; groups and the last-contact date become derived items.
func Itemize(entities []enrichment.ContactEntities) []Item {
	items := []Item{}
	for _, ce := range entities {
		seen := map[string]bool{}
		for _, s := range ce.Suggestions {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			items = append(items, Item{
				ID:          s.ID,
				ContactID:   ce.ContactID,
				ContactName: ce.ContactName,
				Field:       string(s.Type),
				Value:       s.Value,
				Confidence:  s.Confidence,
				Source:      s.Source,
			})
		}
		for _, g := range ce.Entities.Groups {
			if it, ok := derived(ce, FieldGroup, g); ok && !seen[it.ID] {
				seen[it.ID] = true
				items = append(items, it)
			}
		}
		if it, ok := derived(ce, FieldLastContactDate, ce.Entities.LastContactDate); ok {
			items = append(items, it)
		}
	}
	return items
}

func derived(ce enrichment.ContactEntities, field, value string) (Item, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Item{}, false
	}
	key := field + "\x00" + strings.ToLower(value) + "\x00" + ce.ContactID + "\x00" + strings.ToLower(ce.ContactName)
	return Item{
		ID:          uuid.NewSHA1(itemNamespace, []byte(key)).String(),
		ContactID:   ce.ContactID,
		ContactName: ce.ContactName,
		Field:       field,
		Value:       value,
		Confidence:  derivedConfidence,
	}, true
}
