package backendpolicy

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ResolveArchitectureSignature best-effort resolves a model's local
// config.json (filesystem only — never triggers a remote fetch) and
// returns its "architectures" or "model_type" field, suitable for feeding
// into Config.Architecture. Mirrors the Python original's
// inference/_model_config.py:_load_model_config, minus the HuggingFace-hub
// cache fallback (the Go server resolves models to local paths upstream of
// this call).
func ResolveArchitectureSignature(modelPath string) string {
	candidate := modelPath
	if info, err := os.Stat(modelPath); err == nil && info.IsDir() {
		candidate = filepath.Join(modelPath, "config.json")
	}
	data, err := os.ReadFile(candidate)
	if err != nil {
		return ""
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return ""
	}

	if modelType, ok := raw["model_type"].(string); ok && modelType != "" {
		return modelType
	}
	if archs, ok := raw["architectures"].([]any); ok && len(archs) > 0 {
		if s, ok := archs[0].(string); ok {
			return s
		}
	}
	return ""
}
