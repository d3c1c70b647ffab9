package humanize

import "fmt"

var units = []string{"B", "KB", "MB", "GB", "TB"}

// Size renders a byte count using binary multiples, e.g. "1.50MB".
func Size(i int64) string {
	v := float64(i)
	u := 0

	for v >= 1024 && u < len(units)-1 {
		v /= 1024
		u++
	}

	if u == 0 {
		return fmt.Sprintf("%d%s", i, units[0])
	}

	return fmt.Sprintf("%.2f%s", v, units[u])
}
