//go:build darwin

package memmon

import (
	"os/exec"
	"strconv"
	"strings"
)

// readMemInfo reads total physical memory via sysctl and estimates
// available memory from vm_stat page counts, mirroring the teacher's
// pattern of shelling out to a platform CLI for a sensor reading when no
// cgo binding is wired (see resource/sensors_darwin.go's battery probe via
// pmset).
func readMemInfo() (totalBytes, availableBytes uint64, err error) {
	out, err := exec.Command("sysctl", "-n", "hw.memsize").Output()
	if err != nil {
		return 0, 0, err
	}
	total, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, 0, err
	}

	pageSize := uint64(4096)
	freePages, inactivePages := readVMStat()
	available := (freePages + inactivePages) * pageSize
	if available > total {
		available = total
	}
	return total, available, nil
}

func readVMStat() (freePages, inactivePages uint64) {
	out, err := exec.Command("vm_stat").Output()
	if err != nil {
		return 0, 0
	}
	lines := strings.Split(string(out), "\n")
	for _, line := range lines {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		value := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), "."))
		n, convErr := strconv.ParseUint(value, 10, 64)
		if convErr != nil {
			continue
		}
		switch strings.TrimSpace(parts[0]) {
		case "Pages free":
			freePages = n
		case "Pages inactive":
			inactivePages = n
		}
	}
	return freePages, inactivePages
}
