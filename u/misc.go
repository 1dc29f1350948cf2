package u

import (
	"fmt"
	"strings"
	"time"
)

// FormatSize formats a number in a human-readable form e.g. 1.24 kB
func FormatSize(n int64) string {
	sizes := []int64{1024 * 1024 * 1024, 1024 * 1024, 1024}
	suffixes := []string{"GB", "MB", "kB"}
	for i, size := range sizes {
		if n >= size {
			s := fmt.Sprintf("%.2f", float64(n)/float64(size))
			return strings.TrimSuffix(s, ".00") + " " + suffixes[i]
		}
	}
	return fmt.Sprintf("%d bytes", n)
}

// FormatDuration formats d like time.Duration.String() but
// rounds ms to 2 fractional digits and drops fractions of µs
func FormatDuration(d time.Duration) string {
	s := d.String()
	if before, ok := strings.CutSuffix(s, "µs"); ok {
		before, _, _ = strings.Cut(before, ".")
		return before + " µs"
	}
	if before, ok := strings.CutSuffix(s, "ms"); ok {
		whole, frac, hasFrac := strings.Cut(before, ".")
		if hasFrac && len(frac) > 2 {
			frac = frac[:2]
		}
		if hasFrac {
			return whole + "." + frac + " ms"
		}
		return whole + " ms"
	}
	return s
}
