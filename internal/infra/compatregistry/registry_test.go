package compatregistry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
)

func TestRecordAndLatest(t *testing.T) {
	dir := t.TempDir()
	r := Open(filepath.Join(dir, "registry.json"))

	base := time.Now()
	if err := r.Record(domain.CompatibilityRecord{
		ModelID: "model-a", Backend: "vllm-mlx", Outcome: domain.OutcomeFail, Timestamp: base,
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.Record(domain.CompatibilityRecord{
		ModelID: "model-a", Backend: "vllm-mlx", Outcome: domain.OutcomePass, Timestamp: base.Add(time.Second),
	}); err != nil {
		t.Fatal(err)
	}

	latest := r.Latest("model-a", "vllm-mlx")
	if latest == nil || latest.Outcome != domain.OutcomePass {
		t.Fatalf("expected latest outcome pass, got %+v", latest)
	}
}

func TestLatestNilWhenNoRecords(t *testing.T) {
	dir := t.TempDir()
	r := Open(filepath.Join(dir, "registry.json"))
	if r.Latest("missing-model", "gguf") != nil {
		t.Fatal("expected nil latest record for unknown model/backend")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	r := Open(path)
	if err := r.Record(domain.CompatibilityRecord{ModelID: "m", Backend: "gguf", Outcome: domain.OutcomePass, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	reopened := Open(path)
	if reopened.Latest("m", "gguf") == nil {
		t.Fatal("expected record to survive reopen")
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := Open(path)
	if len(r.List("", "", "")) != 0 {
		t.Fatal("expected empty registry after corrupt file")
	}
}
