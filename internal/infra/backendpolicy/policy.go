// Package backendpolicy implements the pure backend-candidate selection
// function (C4). It is a direct Go translation of the teacher-domain's
// closest analogue, the Python original at
// original_source/.../inference/backend_policy.py (backend_candidates),
// kept pure — no I/O beyond the registry lookups the caller supplies.
package backendpolicy

import (
	"strings"

	"github.com/lmx-project/lmx/internal/domain"
)

var allowedBackends = map[string]bool{
	"vllm-mlx": true,
	"mlx-lm":   true,
	"gguf":     true,
}

// Registry is the narrow read capability the policy needs from the
// compatibility registry — satisfied by *compatregistry.Registry.
type Registry interface {
	Latest(model, backend string) *domain.CompatibilityRecord
}

// Config is the subset of server configuration the policy consults.
type Config struct {
	PreferenceOrder    []string
	GGUFFallbackEnabled bool
	// Architecture is an optional normalized architecture signature (e.g.
	// resolved from a local config.json by ResolveArchitectureSignature).
	// When it matches a blocked signature, vllm-mlx is force-excluded.
	Architecture string
}

// blockedRuntimeSignatures are architecture signatures known to cause
// runtime instability with vllm-mlx, per §4.4 and the Python original's
// BLOCKED_RUNTIME_SIGNATURES.
var blockedRuntimeSignatures = []string{"glm_moe_dsa", "glmmoedsa"}

// Candidates returns the ordered list of backend tags to attempt for a
// model load, per §4.4:
//  1. GGUF routing: model ids ending in or containing "gguf" always get
//     exactly ["gguf"].
//  2. Otherwise use the configured preference order, dropping unknown
//     backends and any literal "gguf", deduped preserving order.
//  3. Append "gguf" if GGUF fallback is enabled.
//  4. Unless allowFailed, drop any backend whose latest registry record
//     for this model is "fail".
//  5. If filtering removed everything, fall back to the pre-filter list
//     (fail-open by design).
func Candidates(modelID string, cfg Config, reg Registry, allowFailed bool) []string {
	lowered := strings.ToLower(modelID)
	if strings.HasSuffix(lowered, ".gguf") || strings.Contains(lowered, "gguf") {
		return []string{"gguf"}
	}

	pref := cfg.PreferenceOrder
	if len(pref) == 0 {
		pref = []string{"vllm-mlx", "mlx-lm"}
	}

	normalized := make([]string, 0, len(pref))
	for _, b := range pref {
		if b == "gguf" || !allowedBackends[b] {
			continue
		}
		normalized = append(normalized, b)
	}
	if len(normalized) == 0 {
		normalized = []string{"vllm-mlx", "mlx-lm"}
	}

	if isArchitectureBlocked(cfg.Architecture) {
		normalized = excludeBackend(normalized, "vllm-mlx")
	}

	if cfg.GGUFFallbackEnabled {
		normalized = append(normalized, "gguf")
	}

	ordered := dedupePreserveOrder(normalized)
	if allowFailed {
		return ordered
	}

	filtered := make([]string, 0, len(ordered))
	for _, b := range ordered {
		latest := reg.Latest(modelID, b)
		if latest != nil && latest.Outcome == domain.OutcomeFail {
			continue
		}
		filtered = append(filtered, b)
	}
	if len(filtered) == 0 {
		return ordered
	}
	return filtered
}

func dedupePreserveOrder(values []string) []string {
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

func excludeBackend(values []string, excluded string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == excluded {
			continue
		}
		out = append(out, v)
	}
	return out
}

// isArchitectureBlocked reports whether the normalized architecture string
// contains any blocked runtime signature.
func isArchitectureBlocked(architecture string) bool {
	if architecture == "" {
		return false
	}
	normalized := NormalizeSignature(architecture)
	for _, sig := range blockedRuntimeSignatures {
		if strings.Contains(normalized, sig) {
			return true
		}
	}
	return false
}

// NormalizeSignature lowercases, replaces non-alphanumerics with
// underscores, collapses repeats, and strips leading/trailing underscores —
// the exact normalization rule from §4.4 and the Python original's
// _normalize_signature.
func NormalizeSignature(signature string) string {
	var b strings.Builder
	b.Grow(len(signature))
	for _, r := range signature {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteByte('_')
		}
	}
	normalized := b.String()
	for strings.Contains(normalized, "__") {
		normalized = strings.ReplaceAll(normalized, "__", "_")
	}
	return strings.Trim(normalized, "_")
}
