package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/interpreta/pkg/message"
	"github.com/MrWong99/interpreta/pkg/message/sqlite"
)

func TestStore_SessionLifecycle(t *testing.T) {
	t.Parallel()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "db", "messages.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, b := store.Session("a"), store.Session("b")

	for id, text := range []string{"Eins.", "Zwei."} {
		if err := a.CreateMessage(ctx, int64(id+1), text, ts); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}
	if err := b.CreateMessage(ctx, 1, "Un.", ts); err != nil {
		t.Fatalf("CreateMessage in other session: %v", err)
	}
	if err := a.CreateMessage(ctx, 1, "again", ts); err == nil {
		t.Error("duplicate id in one session: expected error")
	}

	if err := a.SetTranslation(ctx, 2, "Two."); err != nil {
		t.Fatalf("SetTranslation: %v", err)
	}
	if err := a.SetTranslation(ctx, 7, "x"); !errors.Is(err, message.ErrNotFound) {
		t.Errorf("SetTranslation(7) = %v, want ErrNotFound", err)
	}

	msgs, err := store.List(ctx, "a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("List(a) returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Translated != nil {
		t.Errorf("message 1 translated = %q, want nil", *msgs[0].Translated)
	}
	if msgs[1].Translated == nil || *msgs[1].Translated != "Two." {
		t.Errorf("message 2 translated = %v, want Two.", msgs[1].Translated)
	}
	if !msgs[0].Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", msgs[0].Timestamp, ts)
	}
}

func TestStore_InMemory(t *testing.T) {
	t.Parallel()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := store.Session("s").CreateMessage(context.Background(), 1, "x", time.Now()); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
}
