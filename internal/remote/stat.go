package remote

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	statSizeRe   = regexp.MustCompile(`Size:\s+(\d+)`)
	statModifyRe = regexp.MustCompile(`Modify:\s+(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})(?:\.(\d+))?\s+([+-]\d{4})`)
)

const statTimeLayout = "2006-01-02 15:04:05 -0700"

// parseStat reads size and modification time out of GNU `stat` output
func parseStat(out string) *FileInfo {
	info := &FileInfo{Exists: true}

	if m := statSizeRe.FindStringSubmatch(out); m != nil {
		if size, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info.Size = &size
		}
	}

	if m := statModifyRe.FindStringSubmatch(out); m != nil {
		if ts, err := time.Parse(statTimeLayout, m[1]+" "+m[3]); err == nil {
			ts = ts.Add(parseFraction(m[2]))
			info.ModTime = &ts
		}
	}

	return info
}

// parseFraction turns the digits after the seconds' decimal point into a duration
func parseFraction(digits string) time.Duration {
	if digits == "" {
		return 0
	}
	if len(digits) > 9 {
		digits = digits[:9]
	}
	digits += strings.Repeat("0", 9-len(digits))
	ns, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return time.Duration(ns)
}
