//go:build !linux

package diagnostics

import "errors"

// cpuTicks has no portable implementation outside Linux; the ProcessMonitor
// strategy falls back to generation-only waiting on these platforms.
func cpuTicks(pid int) (uint64, error) {
	return 0, errors.New("diagnostics: cpu tick polling unsupported on this platform")
}
