package backendpolicy

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

var stopTokens = map[string]bool{"mlx": true, "community": true, "model": true}

func nameTokens(modelID string) []string {
	parts := strings.Split(modelID, "/")
	name := parts[len(parts)-1]
	var tokens []string
	for _, p := range nonAlphaNum.Split(name, -1) {
		if p == "" {
			continue
		}
		lower := strings.ToLower(p)
		if stopTokens[lower] {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}

// ResolveLocalGGUFEquivalents is a best-effort search of local GGUF
// directories for a `.gguf` file that likely corresponds to an MLX-style
// model id, by tokenized filename match. Ported from the Python original's
// inference/gguf_resolver.py:resolve_local_gguf_equivalents. Used as an
// optional pre-step before the child loader attempts a remote GGUF
// resolution, per SPEC_FULL.md §12.
func ResolveLocalGGUFEquivalents(modelID string, searchRoots []string, maxResults int) []string {
	lowered := strings.ToLower(modelID)
	if strings.HasSuffix(lowered, ".gguf") {
		if _, err := os.Stat(modelID); err == nil {
			return []string{modelID}
		}
		return nil
	}

	tokens := nameTokens(modelID)
	if len(tokens) == 0 {
		return nil
	}
	if maxResults <= 0 {
		maxResults = 20
	}

	var candidates []string
	for _, root := range searchRoots {
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d == nil || d.IsDir() {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(path), ".gguf") {
				return nil
			}
			stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
			for _, tok := range tokens {
				if strings.Contains(stem, tok) {
					candidates = append(candidates, path)
					break
				}
			}
			return nil
		})
	}

	candidates = dedupeStrings(candidates)
	sort.Slice(candidates, func(i, j int) bool {
		li, lj := len(filepath.Base(candidates[i])), len(filepath.Base(candidates[j]))
		if li != lj {
			return li < lj
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	return candidates
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
