package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSession(t *testing.T, dir string, s Session) {
	t.Helper()
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, s.ID+".json"), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestList_FiltersAndPaginates(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeSession(t, dir, Session{ID: "a", Model: "m1", Tags: []string{"x"}, CreatedAt: now})
	writeSession(t, dir, Session{ID: "b", Model: "m2", Tags: []string{"y"}, CreatedAt: now.Add(time.Hour)})
	writeSession(t, dir, Session{ID: "c", Model: "m1", Tags: []string{"x"}, CreatedAt: now.Add(2 * time.Hour)})

	store := NewStore(dir)

	got, err := store.List(ListOptions{Model: "m1"})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "c" {
		t.Errorf("got[0].ID = %q, want \"c\" (most recent first)", got[0].ID)
	}

	got, err = store.List(ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
}

func TestGet_NotFound(t *testing.T) {
	store := NewStore(t.TempDir())
	_, ok, err := store.Get("missing")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if ok {
		t.Error("ok = true, want false")
	}
}

func TestSearch_MatchesFirstMessage(t *testing.T) {
	dir := t.TempDir()
	s := Session{ID: "a", Title: "weekend trip", CreatedAt: time.Now()}
	s.Messages = append(s.Messages, struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: "plan a hike in yosemite"})
	writeSession(t, dir, s)

	store := NewStore(dir)
	got, err := store.Search("yosemite", 10)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
}

func TestDelete_RemovesFile(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, Session{ID: "a", CreatedAt: time.Now()})
	store := NewStore(dir)

	if err := store.Delete("a"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok, _ := store.Get("a"); ok {
		t.Error("session still present after Delete")
	}
}

func TestList_MissingDirReturnsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	got, err := store.List(ListOptions{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len(got) = %d, want 0", len(got))
	}
}
