package memmon

import "testing"

func fakeSampler(totalGB, availGB float64) func() (uint64, uint64, error) {
	return func() (uint64, uint64, error) {
		return uint64(totalGB * gb), uint64(availGB * gb), nil
	}
}

func TestNewRejectsOutOfBoundsThreshold(t *testing.T) {
	tests := []struct {
		name    string
		pct     float64
		wantErr bool
	}{
		{"below min", 49.9, true},
		{"at min", 50, false},
		{"typical", 95, false},
		{"at max", 99, false},
		{"above max", 99.1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.pct)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%v) error = %v, wantErr %v", tt.pct, err, tt.wantErr)
			}
		})
	}
}

func TestCanLoad(t *testing.T) {
	m, err := newWithSampler(95, fakeSampler(100, 20))
	if err != nil {
		t.Fatal(err)
	}
	// used = 80GB of 100GB. Adding 10GB -> 90% <= 95 -> ok.
	if !m.CanLoad(10) {
		t.Fatal("expected CanLoad(10) to be true at 90% projected usage")
	}
	// Adding 20GB -> 100% > 95 -> rejected.
	if m.CanLoad(20) {
		t.Fatal("expected CanLoad(20) to be false at 100% projected usage")
	}
}

func TestUsagePercent(t *testing.T) {
	m, err := newWithSampler(95, fakeSampler(100, 25))
	if err != nil {
		t.Fatal(err)
	}
	got := m.UsagePercent()
	if got != 75 {
		t.Fatalf("UsagePercent() = %v, want 75", got)
	}
}

func TestStatus(t *testing.T) {
	m, err := newWithSampler(90, fakeSampler(16, 4))
	if err != nil {
		t.Fatal(err)
	}
	s := m.Status()
	if s.TotalGB != 16 || s.AvailableGB != 4 || s.UsedGB != 12 {
		t.Fatalf("unexpected status: %+v", s)
	}
	if s.ThresholdPct != 90 {
		t.Fatalf("ThresholdPct = %v, want 90", s.ThresholdPct)
	}
}
