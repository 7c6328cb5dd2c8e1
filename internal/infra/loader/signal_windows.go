//go:build windows

package loader

import "os/exec"

// exitSignal is always nil on Windows; there is no POSIX signal concept to
// recover from exec.ExitError.Sys() there.
func exitSignal(exitErr *exec.ExitError) *int { return nil }
