package skills

import (
	"context"
	"testing"
)

func TestDefaultRegistry_EchoAndAdd(t *testing.T) {
	r := NewDefaultRegistry()

	out, err := r.Invoke(context.Background(), "echo", map[string]any{"x": 1.0}, false)
	if err != nil {
		t.Fatalf("Invoke(echo) error: %v", err)
	}
	if _, ok := out["echo"]; !ok {
		t.Errorf("echo result missing \"echo\" key: %+v", out)
	}

	out, err = r.Invoke(context.Background(), "add", map[string]any{"a": 2.0, "b": 3.0}, false)
	if err != nil {
		t.Fatalf("Invoke(add) error: %v", err)
	}
	if out["sum"] != 5.0 {
		t.Errorf("sum = %v, want 5", out["sum"])
	}
}

func TestInvoke_UnknownSkill(t *testing.T) {
	r := NewDefaultRegistry()
	if _, err := r.Invoke(context.Background(), "nope", nil, false); err != ErrSkillNotFound {
		t.Errorf("err = %v, want ErrSkillNotFound", err)
	}
}

func TestInvoke_ApprovalGate(t *testing.T) {
	r := NewRegistry()
	r.Register(Manifest{Name: "shell", Tags: []string{"shell_exec"}}, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"ran": true}, nil
	})

	if _, err := r.Invoke(context.Background(), "shell", nil, false); err != ErrApprovalRequired {
		t.Errorf("err = %v, want ErrApprovalRequired", err)
	}
	if _, err := r.Invoke(context.Background(), "shell", nil, true); err != nil {
		t.Errorf("approved invoke error: %v", err)
	}
}

func TestList_SortedByName(t *testing.T) {
	r := NewDefaultRegistry()
	list := r.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].Name > list[i].Name {
			t.Errorf("List() not sorted: %v", list)
		}
	}
}
