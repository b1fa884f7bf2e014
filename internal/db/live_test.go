package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jwulff/quill/internal/recording"
)

// TestLivePostgres runs a create/update/delete cycle against a real Postgres.
// Skipped unless QUILL_TEST_POSTGRES_DSN is set.
func TestLivePostgres(t *testing.T) {
	dsn := os.Getenv("QUILL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QUILL_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := OpenPostgres(ctx, PostgresConfig{DSN: dsn, MaxConns: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	owner := fmt.Sprintf("live-test-%d", time.Now().UnixNano())
	r, err := store.Insert(ctx, recording.Recording{OwnerID: owner, Title: "Live"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	fmt.Printf("Inserted recording: id=%s created=%s\n", r.ID, r.CreatedAt.Format(time.RFC3339))

	summary := "live summary"
	if err := store.Update(ctx, r.ID, recording.Patch{Summary: &summary}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.SelectAllFor(ctx, owner)
	if err != nil {
		t.Fatalf("SelectAllFor: %v", err)
	}
	if len(got) != 1 || got[0].Summary == nil || *got[0].Summary != summary {
		t.Fatalf("SelectAllFor = %+v, want one row with summary", got)
	}

	if err := store.Delete(ctx, r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, r.ID); err != recording.ErrNotFound {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}
