package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var timespanUnits = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
}

// ParseTimespan parses the shorthand duration syntax used by configuration
// properties: one or more <digits><unit> segments with units W, D, H, M, S and MS
// (case-insensitive). Digits without a unit are milliseconds.
//
//	ParseTimespan("1W")    // 168h
//	ParseTimespan("1h30m") // 1h30m
//	ParseTimespan("500")   // 500ms
func ParseTimespan(s string) (time.Duration, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("empty timespan")
	}

	var total time.Duration
	for i := 0; i < len(in); {
		start := i
		for i < len(in) && unicode.IsDigit(rune(in[i])) {
			i++
		}
		if start == i {
			return 0, fmt.Errorf("invalid timespan %q: expected digits at %d", s, start)
		}
		n, err := strconv.ParseInt(in[start:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timespan %q: %w", s, err)
		}

		unitStart := i
		for i < len(in) && unicode.IsLetter(rune(in[i])) {
			i++
		}
		unit := in[unitStart:i]
		if unit == "" {
			unit = "ms"
		}
		mult, ok := timespanUnits[unit]
		if !ok {
			return 0, fmt.Errorf("invalid timespan %q: unknown unit %q", s, unit)
		}
		if n > int64(math.MaxInt64/mult) || total > math.MaxInt64-time.Duration(n)*mult {
			return 0, fmt.Errorf("invalid timespan %q: out of range", s)
		}
		total += time.Duration(n) * mult
	}
	return total, nil
}
