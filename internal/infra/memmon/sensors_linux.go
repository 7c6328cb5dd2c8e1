//go:build linux

package memmon

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// readMemInfo reads total and available memory from /proc/meminfo on Linux,
// the same sysfs-probing style as the teacher's resource.readCPUTemp.
func readMemInfo() (totalBytes, availableBytes uint64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var totalKB, availKB, freeKB uint64
	haveAvail := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		value, convErr := strconv.ParseUint(fields[1], 10, 64)
		if convErr != nil {
			continue
		}
		switch key {
		case "MemTotal":
			totalKB = value
		case "MemAvailable":
			availKB = value
			haveAvail = true
		case "MemFree":
			freeKB = value
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}

	if !haveAvail {
		availKB = freeKB
	}
	return totalKB * 1024, availKB * 1024, nil
}
