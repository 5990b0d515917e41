package platform

import (
	"strconv"
	"strings"
)

// parseNvidiaSMI returns the hottest GPU from nvidia-smi CSV output, one
// temperature per line.
func parseNvidiaSMI(out string) *float64 {
	var (
		hottest float64
		found   bool
	)
	for _, line := range strings.Split(out, "\n") {
		v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			continue
		}
		if !found || v > hottest {
			hottest, found = v, true
		}
	}
	if !found {
		return nil
	}
	return &hottest
}
