package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nickmurray47/goose/pkg/models"
)

func testSession(id string) *models.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Session{
		ID:        id,
		Name:      "test",
		Mode:      models.ModeSmartApprove,
		Usage:     models.TokenUsage{InputTokens: 100, OutputTokens: 20},
		CreatedAt: now,
		UpdatedAt: now,
		Turns: []models.Turn{{
			Index: 0,
			Messages: []models.Message{
				{ID: "m1", Role: models.RoleUser, Content: "hi", CreatedAt: now},
				{ID: "m2", Role: models.RoleAssistant, Content: "hello", CreatedAt: now},
			},
			Usage:       models.TokenUsage{InputTokens: 100, OutputTokens: 20},
			CommittedAt: now,
		}},
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := testSession("s1")

			if err := store.Create(ctx, sess); err != nil {
				t.Fatalf("Create() error: %v", err)
			}
			if err := store.Create(ctx, sess); !errors.Is(err, ErrExists) {
				t.Errorf("duplicate Create() = %v, want ErrExists", err)
			}

			loaded, err := store.Get(ctx, "s1")
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if loaded.Name != "test" || len(loaded.Turns) != 1 {
				t.Errorf("loaded = %+v", loaded)
			}
			if loaded.Turns[0].Messages[0].Content != "hi" {
				t.Errorf("turn content lost: %+v", loaded.Turns[0])
			}
			if loaded.Usage.Total() != 120 {
				t.Errorf("usage = %d, want 120", loaded.Usage.Total())
			}
		})
	}
}

func TestStoreSaveExtendsSession(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := testSession("s1")
			if err := store.Create(ctx, sess); err != nil {
				t.Fatal(err)
			}

			now := time.Now().UTC()
			sess.Turns = append(sess.Turns, models.Turn{
				Index: 1,
				Messages: []models.Message{
					{ID: "m3", Role: models.RoleUser, Content: "more", CreatedAt: now},
					{ID: "m4", Role: models.RoleAssistant, Content: "sure", CreatedAt: now},
				},
				CommittedAt: now,
			})
			sess.UpdatedAt = now
			if err := store.Save(ctx, sess); err != nil {
				t.Fatalf("Save() error: %v", err)
			}

			loaded, err := store.Get(ctx, "s1")
			if err != nil {
				t.Fatal(err)
			}
			if len(loaded.Turns) != 2 {
				t.Errorf("got %d turns, want 2", len(loaded.Turns))
			}
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := testSession("a")
			b := testSession("b")
			b.UpdatedAt = b.UpdatedAt.Add(time.Hour)
			if err := store.Create(ctx, a); err != nil {
				t.Fatal(err)
			}
			if err := store.Create(ctx, b); err != nil {
				t.Fatal(err)
			}

			summaries, err := store.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(summaries) != 2 || summaries[0].ID != "b" {
				t.Errorf("summaries = %+v, want b first", summaries)
			}

			if err := store.Delete(ctx, "a"); err != nil {
				t.Fatal(err)
			}
			if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(deleted) = %v, want ErrNotFound", err)
			}
			if err := store.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Delete(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreDetectsCorruptSession(t *testing.T) {
	// A turn whose tool call lacks a matching result must never load.
	bad := testSession("bad")
	bad.Turns[0].Messages[1].ToolCalls = []models.ToolCall{{
		ID: "tc-orphan", Extension: "dev", Tool: "shell",
		Arguments: json.RawMessage(`{}`),
	}}

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Save(ctx, bad); err != nil {
				t.Fatal(err)
			}
			_, err := store.Get(ctx, "bad")
			var corrupt *models.CorruptError
			if !errors.As(err, &corrupt) {
				t.Fatalf("Get() = %v, want CorruptError", err)
			}
		})
	}
}

func TestSQLiteDetectsUndecodableDocument(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now().UTC()
	_, err = store.db.Exec(`
		INSERT INTO sessions (id, name, mode, turns, tokens, data, created_at, updated_at)
		VALUES ('mangled', '', 'auto', 0, 0, 'not json', ?, ?)
	`, now, now)
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.Get(context.Background(), "mangled")
	var corrupt *models.CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("Get() = %v, want CorruptError", err)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, testSession("durable")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	loaded, err := reopened.Get(ctx, "durable")
	if err != nil {
		t.Fatalf("Get() after reopen: %v", err)
	}
	if len(loaded.Turns) != 1 {
		t.Errorf("turns lost across reopen: %d", len(loaded.Turns))
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sess := testSession("iso")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not leak into the store.
	sess.Turns[0].Messages[0].Content = "mutated"
	loaded, err := store.Get(ctx, "iso")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Turns[0].Messages[0].Content != "hi" {
		t.Error("store shares memory with the caller")
	}
}

func TestOpenBackends(t *testing.T) {
	if _, err := Open("memory", ""); err != nil {
		t.Errorf("Open(memory) error: %v", err)
	}
	store, err := Open("sqlite", filepath.Join(t.TempDir(), "s.db"))
	if err != nil {
		t.Fatalf("Open(sqlite) error: %v", err)
	}
	store.Close()
	if _, err := Open("redis", ""); err == nil {
		t.Error("Open(unknown) should fail")
	}
}
