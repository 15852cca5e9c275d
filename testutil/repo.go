package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/draft"
)

// Repository checks the draft and record operations of a draft.Repository.
func Repository(ctx context.Context, t *testing.T, repo draft.Repository) {
	t.Helper()

	rec := draft.Record{
		Name:        "airhorn",
		Description: "loud",
		Author:      "u1",
		Guild:       "g1",
		DraftedAt:   time.Unix(1600000000, 0).UTC(),
		Media:       fxcache.MediaOrigin{Locator: "https://example.com/v", Start: 2 * time.Second, Length: 5 * time.Second},
	}

	id1, err := repo.AddDraft(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := repo.AddDraft(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatalf("two drafts got the same id %s", id1)
	}

	got, err := repo.GetDraft(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("draft mismatch (-want +got):\n%s", diff)
	}

	if err = repo.DeleteDraft(ctx, id1); err != nil {
		t.Fatal(err)
	}
	if _, err = repo.GetDraft(ctx, id1); !errors.Is(err, draft.ErrNotFound) {
		t.Errorf("got %v for deleted draft, want %v", err, draft.ErrNotFound)
	}
	if err = repo.DeleteDraft(ctx, id1); !errors.Is(err, draft.ErrNotFound) {
		t.Errorf("got %v deleting twice, want %v", err, draft.ErrNotFound)
	}
	if _, err = repo.GetDraft(ctx, id2); err != nil {
		t.Errorf("other draft: %s", err)
	}

	if _, err = repo.Get(ctx, rec.Guild, rec.Name); !errors.Is(err, draft.ErrNotFound) {
		t.Errorf("got %v before adding, want %v", err, draft.ErrNotFound)
	}
	if err = repo.Add(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err = repo.Get(ctx, rec.Guild, rec.Name)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	dup := rec
	dup.Description = "louder"
	if err = repo.Add(ctx, dup); !errors.Is(err, draft.ErrAlreadyExists) {
		t.Errorf("got %v adding a duplicate name, want %v", err, draft.ErrAlreadyExists)
	}

	other := rec
	other.Guild = "g2"
	if err = repo.Add(ctx, other); err != nil {
		t.Errorf("same name in another guild: %s", err)
	}
	if _, err = repo.Get(ctx, "g3", rec.Name); !errors.Is(err, draft.ErrNotFound) {
		t.Errorf("got %v for a guild without the record, want %v", err, draft.ErrNotFound)
	}
}
