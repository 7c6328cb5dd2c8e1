// Package sessions bridges the HTTP API to on-disk session transcript
// files under ~/.lmx/sessions/. It reads JSON, never writes it — session
// files are produced by whatever client drives the chat completions API,
// not by LMX itself.
package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Session is one stored conversation transcript.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (s Session) firstMessage() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[0].Content
}

// Store reads session files from a directory.
type Store struct {
	dir string
}

// NewStore constructs a Store rooted at dir (typically ~/.lmx/sessions).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (st *Store) loadAll() ([]Session, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	sessions := make([]Session, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(st.dir, ent.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		if s.ID == "" {
			s.ID = strings.TrimSuffix(ent.Name(), ".json")
		}
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
	return sessions, nil
}

// ListOptions filters and paginates List.
type ListOptions struct {
	Limit  int
	Offset int
	Model  string
	Tag    string
	Since  time.Time
}

// List returns sessions matching opts, most-recent first.
func (st *Store) List(opts ListOptions) ([]Session, error) {
	all, err := st.loadAll()
	if err != nil {
		return nil, err
	}

	filtered := make([]Session, 0, len(all))
	for _, s := range all {
		if opts.Model != "" && s.Model != opts.Model {
			continue
		}
		if opts.Tag != "" && !hasTag(s.Tags, opts.Tag) {
			continue
		}
		if !opts.Since.IsZero() && s.CreatedAt.Before(opts.Since) {
			continue
		}
		filtered = append(filtered, s)
	}

	return paginate(filtered, opts.Offset, opts.Limit), nil
}

// Get returns one session by id.
func (st *Store) Get(id string) (*Session, bool, error) {
	all, err := st.loadAll()
	if err != nil {
		return nil, false, err
	}
	for _, s := range all {
		if s.ID == id {
			return &s, true, nil
		}
	}
	return nil, false, nil
}

// Delete removes a session file by id.
func (st *Store) Delete(id string) error {
	path := filepath.Join(st.dir, id+".json")
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Search performs a case-insensitive substring search over title, model,
// tags, and the first message of each session.
func (st *Store) Search(query string, limit int) ([]Session, error) {
	all, err := st.loadAll()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)

	matches := make([]Session, 0)
	for _, s := range all {
		haystack := strings.ToLower(s.Title + " " + s.Model + " " + strings.Join(s.Tags, " ") + " " + s.firstMessage())
		if strings.Contains(haystack, q) {
			matches = append(matches, s)
		}
	}
	return paginate(matches, 0, limit), nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func paginate(sessions []Session, offset, limit int) []Session {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(sessions) {
		return []Session{}
	}
	sessions = sessions[offset:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions
}
