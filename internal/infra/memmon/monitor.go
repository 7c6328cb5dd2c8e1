// Package memmon reports live system memory usage and predicts whether a
// prospective model load would breach a configured threshold. It is grounded
// on the teacher's internal/infra/resource sensor package: small platform
// probes behind build tags, wrapped in a threshold-bounded monitor in the
// same style as resource.Governor's tick()-computed budget.
package memmon

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
)

// Monitor reports total/used/available memory and answers can-load queries
// against a construction-time threshold percentage.
type Monitor struct {
	mu        sync.Mutex
	thresholdPct float64
	sample    func() (totalBytes, availableBytes uint64, err error)
}

// Status is the snapshot returned by Status().
type Status struct {
	TotalGB      float64 `json:"total_gb"`
	UsedGB       float64 `json:"used_gb"`
	AvailableGB  float64 `json:"available_gb"`
	UsagePercent float64 `json:"usage_percent"`
	ThresholdPct float64 `json:"threshold_percent"`
}

// New constructs a Monitor. thresholdPct must be in [50, 99]; values outside
// that range fail construction, per §4.1.
func New(thresholdPct float64) (*Monitor, error) {
	if thresholdPct < 50 || thresholdPct > 99 {
		return nil, fmt.Errorf("memmon: threshold percent %.1f out of bounds [50, 99]", thresholdPct)
	}
	return &Monitor{thresholdPct: thresholdPct, sample: readMemInfo}, nil
}

// newWithSampler is used by tests to inject a deterministic memory sample.
func newWithSampler(thresholdPct float64, sample func() (uint64, uint64, error)) (*Monitor, error) {
	m, err := New(thresholdPct)
	if err != nil {
		return nil, err
	}
	m.sample = sample
	return m, nil
}

const gb = 1024 * 1024 * 1024

// TotalGB returns total system memory in gigabytes.
func (m *Monitor) TotalGB() float64 {
	total, _, err := m.sample()
	if err != nil {
		return 0
	}
	return float64(total) / gb
}

// AvailableGB returns currently available (free + reclaimable) memory in
// gigabytes.
func (m *Monitor) AvailableGB() float64 {
	_, avail, err := m.sample()
	if err != nil {
		return 0
	}
	return float64(avail) / gb
}

// UsedGB returns total minus available memory in gigabytes.
func (m *Monitor) UsedGB() float64 {
	total, avail, err := m.sample()
	if err != nil {
		return 0
	}
	used := float64(total-avail) / gb
	if used < 0 {
		return 0
	}
	return used
}

// UsagePercent returns used/total * 100.
func (m *Monitor) UsagePercent() float64 {
	total, avail, err := m.sample()
	if err != nil || total == 0 {
		return 0
	}
	used := total - avail
	return float64(used) / float64(total) * 100
}

// CanLoad reports whether loading an additional estimatedGB would keep usage
// at or below the threshold: (used_gb + estimated_gb) / total_gb * 100 <= threshold.
func (m *Monitor) CanLoad(estimatedGB float64) bool {
	total, avail, err := m.sample()
	if err != nil || total == 0 {
		return false
	}
	usedGB := float64(total-avail) / gb
	totalGB := float64(total) / gb
	projected := (usedGB + estimatedGB) / totalGB * 100
	return projected <= m.thresholdPct
}

// Status returns a full snapshot, suitable for /admin/health and the CLI.
func (m *Monitor) Status() Status {
	total, avail, err := m.sample()
	if err != nil || total == 0 {
		return Status{ThresholdPct: m.thresholdPct}
	}
	totalGB := float64(total) / gb
	usedGB := float64(total-avail) / gb
	return Status{
		TotalGB:      totalGB,
		UsedGB:       usedGB,
		AvailableGB:  float64(avail) / gb,
		UsagePercent: usedGB / totalGB * 100,
		ThresholdPct: m.thresholdPct,
	}
}

// ThresholdPercent returns the configured threshold.
func (m *Monitor) ThresholdPercent() float64 { return m.thresholdPct }

// HumanStatus renders Status using human-readable byte sizes, following the
// teacher's use of go-humanize for model-size display in the CLI.
func HumanStatus(s Status) string {
	return fmt.Sprintf("%s / %s used (%.1f%%), threshold %.0f%%",
		humanize.Bytes(uint64(s.UsedGB*gb)),
		humanize.Bytes(uint64(s.TotalGB*gb)),
		s.UsagePercent, s.ThresholdPct)
}
