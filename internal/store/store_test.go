package store

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
	"github.com/GriffinCanCode/voicenote/internal/proposal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContactsUpsertAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, c := range []contacts.Contact{
		{ID: "c2", UserID: "u1", FirstName: "Bob"},
		{ID: "c1", UserID: "u1", FirstName: "Jon", LastName: "Smith"},
		{ID: "c3", UserID: "u2", FirstName: "Alice"},
	} {
		if err := s.UpsertContact(ctx, c); err != nil {
			t.Fatalf("UpsertContact(%s): %v", c.ID, err)
		}
	}
	if err := s.UpsertContact(ctx, contacts.Contact{ID: "c1", UserID: "u1", FirstName: "John", LastName: "Smith"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListContacts(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d contacts, want 2", len(got))
	}
	if got[0].ID != "c1" || got[0].FirstName != "John" {
		t.Errorf("got[0] = %+v, want updated c1", got[0])
	}

	none, err := s.ListContacts(ctx, "nobody")
	if err != nil || len(none) != 0 {
		t.Errorf("ListContacts(nobody) = %v, %v", none, err)
	}
}

func TestUpsertContactValidation(t *testing.T) {
	s := openTestStore(t)
	err := s.UpsertContact(context.Background(), contacts.Contact{FirstName: "x"})
	if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestProposalRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

	p := &proposal.Proposal{
		ID:         "p1",
		SessionID:  "s1",
		UserID:     "u1",
		Transcript: "Jon loves climbing.",
		CreatedAt:  created,
		Items: []proposal.Item{
			{ID: "i1", ContactID: "c1", ContactName: "Jon Smith", Field: "interest", Value: "climbing", Confidence: 0.75},
			{ID: "i2", ContactID: "c1", ContactName: "Jon Smith", Field: "tag", Value: "climber", Confidence: 0.7, Source: "Jon loves climbing."},
		},
	}
	if err := s.SaveProposal(ctx, p); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProposal(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "s1" || got.Transcript != p.Transcript {
		t.Errorf("header = %+v", got)
	}
	if d := got.CreatedAt.Sub(created); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if len(got.Items) != 2 || got.Items[0].ID != "i1" || got.Items[1].Source != "Jon loves climbing." {
		t.Errorf("items = %+v", got.Items)
	}
}

func TestSaveProposalIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &proposal.Proposal{ID: "p1", SessionID: "s1", UserID: "u1", CreatedAt: time.Now()}
	if err := s.SaveProposal(ctx, p); err != nil {
		t.Fatal(err)
	}
	// Same id again fails on the header insert and leaves nothing behind.
	dup := &proposal.Proposal{ID: "p1", SessionID: "s2", UserID: "u1", CreatedAt: time.Now(),
		Items: []proposal.Item{{ID: "x", Field: "tag", Value: "v"}}}
	err := s.SaveProposal(ctx, dup)
	if !apperrors.IsCode(err, apperrors.CodeStoreFailed) {
		t.Fatalf("err = %v, want STORE_FAILED", err)
	}

	got, err := s.GetProposal(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "s1" || len(got.Items) != 0 {
		t.Errorf("stored proposal changed: %+v", got)
	}
}

func TestGetProposalNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetProposal(context.Background(), "missing")
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestBuilderPersistsThroughStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := proposal.NewBuilder(s).Build(ctx, proposal.Input{SessionID: "s9", UserID: "u1", Transcript: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetProposal(ctx, p.ID); err != nil {
		t.Errorf("built proposal not found: %v", err)
	}
}

var _ contacts.Directory = (*Store)(nil)
