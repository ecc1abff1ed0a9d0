//go:build linux

package diagnostics

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// cpuTicks reads utime+stime (fields 14 and 15) from /proc/<pid>/stat, the
// only readiness signal available for a server that emits neither version
// numbers nor progress tokens.
func cpuTicks(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	// Field 2 (comm) is parenthesized and may contain spaces, so split on
	// the last ')' before tokenizing the remaining whitespace-separated fields.
	close := strings.LastIndexByte(string(data), ')')
	if close < 0 || close+2 > len(data) {
		return 0, fmt.Errorf("diagnostics: malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(string(data[close+2:]))
	// fields[0] is field 3 (state); utime is field 14 -> index 11, stime field 15 -> index 12.
	if len(fields) < 13 {
		return 0, fmt.Errorf("diagnostics: /proc/%d/stat too short", pid)
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, err
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, err
	}
	return utime + stime, nil
}
