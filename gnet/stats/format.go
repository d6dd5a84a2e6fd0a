package stats

import (
	"fmt"
	"strconv"
	"strings"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes 以 1024 为进制格式化字节数
func FormatBytes(n uint64) string {
	size := float64(n)
	unit := 0
	for size >= 1024 && unit < len(byteUnits)-1 {
		size /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", n, byteUnits[0])
	}
	return fmt.Sprintf("%.2f %s", size, byteUnits[unit])
}

// FormatRate 以 1000 为进制格式化比特率
func FormatRate(bps float64) string {
	switch {
	case bps >= 1e9:
		return fmt.Sprintf("%.2f Gbps", bps/1e9)
	case bps >= 1e6:
		return fmt.Sprintf("%.2f Mbps", bps/1e6)
	case bps >= 1e3:
		return fmt.Sprintf("%.2f Kbps", bps/1e3)
	default:
		return fmt.Sprintf("%.2f bps", bps)
	}
}

// ParseRate 解析 "10M"、"1.5Gbps"、"800k" 之类的比特率，返回 bit/s。
func ParseRate(s string) (float64, error) {
	v := strings.TrimSpace(s)
	lower := strings.ToLower(v)
	lower = strings.TrimSuffix(lower, "bps")
	lower = strings.TrimSuffix(lower, "bit/s")

	mult := 1.0
	if n := len(lower); n > 0 {
		switch lower[n-1] {
		case 'k':
			mult = 1e3
		case 'm':
			mult = 1e6
		case 'g':
			mult = 1e9
		}
		if mult != 1 {
			lower = lower[:n-1]
		}
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(lower), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	if f <= 0 {
		return 0, fmt.Errorf("rate %q must be positive", s)
	}
	return f * mult, nil
}
