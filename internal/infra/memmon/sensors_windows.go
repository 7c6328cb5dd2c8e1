//go:build windows

package memmon

import (
	"syscall"
	"unsafe"
)

// memoryStatusEx mirrors the Win32 MEMORYSTATUSEX structure.
type memoryStatusEx struct {
	cbSize                  uint32
	dwMemoryLoad            uint32
	ullTotalPhys            uint64
	ullAvailPhys            uint64
	ullTotalPageFile        uint64
	ullAvailPageFile        uint64
	ullTotalVirtual         uint64
	ullAvailVirtual         uint64
	ullAvailExtendedVirtual uint64
}

var (
	modkernel32             = syscall.NewLazyDLL("kernel32.dll")
	procGlobalMemoryStatus  = modkernel32.NewProc("GlobalMemoryStatusEx")
)

// readMemInfo calls GlobalMemoryStatusEx, following the teacher's
// convention of a thin syscall wrapper per platform sensor file.
func readMemInfo() (totalBytes, availableBytes uint64, err error) {
	var status memoryStatusEx
	status.cbSize = uint32(unsafe.Sizeof(status))
	ret, _, callErr := procGlobalMemoryStatus.Call(uintptr(unsafe.Pointer(&status)))
	if ret == 0 {
		return 0, 0, callErr
	}
	return status.ullTotalPhys, status.ullAvailPhys, nil
}
