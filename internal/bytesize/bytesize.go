// Package bytesize parses and formats human-readable byte counts for
// configuration values like cache budgets and payload caps.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count that unmarshals from strings such as "50Mi",
// "256KiB", "1GB" or plain numbers.
//
// Binary suffixes (Ki/Mi/Gi/Ti, with or without a trailing B) multiply by
// 1024; decimal suffixes (K/M/G/T, KB/MB/...) multiply by 1000. A bare
// number or a "B" suffix is taken as bytes.
type Size uint64

const (
	B  Size = 1
	KB Size = 1000
	MB Size = 1000 * KB
	GB Size = 1000 * MB
	TB Size = 1000 * GB

	KiB Size = 1 << 10
	MiB Size = 1 << 20
	GiB Size = 1 << 30
	TiB Size = 1 << 40
)

// Parse converts a human-readable byte count into a Size.
func Parse(s string) (Size, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	i := 0
	for i < len(t) && (t[i] >= '0' && t[i] <= '9' || t[i] == '.') {
		i++
	}
	num := t[:i]
	unit := strings.TrimSpace(t[i:])
	if num == "" {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	mult, ok := multiplier(unit)
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q in %q", unit, s)
	}

	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q", s)
		}
		return Size(f * float64(mult)), nil
	}

	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	return Size(n) * mult, nil
}

func multiplier(unit string) (Size, bool) {
	switch strings.ToLower(unit) {
	case "", "b":
		return B, true
	case "k", "kb":
		return KB, true
	case "m", "mb":
		return MB, true
	case "g", "gb":
		return GB, true
	case "t", "tb":
		return TB, true
	case "ki", "kib":
		return KiB, true
	case "mi", "mib":
		return MiB, true
	case "gi", "gib":
		return GiB, true
	case "ti", "tib":
		return TiB, true
	}
	return 0, false
}

// String formats the size with the largest binary unit it divides evenly,
// so values that came from config strings round-trip exactly ("50MiB"
// rather than "50.00MiB"). Inexact values get two decimals.
func (s Size) String() string {
	units := []struct {
		div    Size
		suffix string
	}{
		{TiB, "TiB"},
		{GiB, "GiB"},
		{MiB, "MiB"},
		{KiB, "KiB"},
	}
	for _, u := range units {
		if s < u.div {
			continue
		}
		if s%u.div == 0 {
			return fmt.Sprintf("%d%s", uint64(s/u.div), u.suffix)
		}
		return fmt.Sprintf("%.2f%s", float64(s)/float64(u.div), u.suffix)
	}
	return fmt.Sprintf("%dB", uint64(s))
}

// UnmarshalText implements encoding.TextUnmarshaler, covering mapstructure
// and yaml decoding.
func (s *Size) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler, so saved configs carry
// readable sizes instead of raw byte counts.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Uint64 returns the size as a uint64.
func (s Size) Uint64() uint64 {
	return uint64(s)
}

// Int64 returns the size as an int64. Sizes beyond 8EiB overflow; nothing
// configurable here gets close.
func (s Size) Int64() int64 {
	return int64(s)
}
