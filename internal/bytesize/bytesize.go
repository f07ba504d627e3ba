// Package bytesize parses human-readable sizes for configuration
// fields such as transfer.chunk_size.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes. Config files and environment variables
// may spell it as a plain integer ("5242880"), a binary unit ("5Mi",
// "5MiB", x1024) or a decimal unit ("5MB", x1000).
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// ParseByteSize parses strings like "5Mi", "100MB", "1.5Gi" or "4096".
// Units are case-insensitive and a bare number means bytes.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	// The numeric part runs up to the first character that is neither
	// a digit nor a decimal point; the rest is the unit suffix.
	cut := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			cut = i
			break
		}
	}
	num := s[:cut]
	unit := strings.ToLower(strings.TrimSpace(s[cut:]))

	if num == "" || num[0] == '.' {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	factor, ok := unitFactor(unit)
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", s[cut:])
	}

	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", num)
		}
		return ByteSize(f * float64(factor)), nil
	}

	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", num)
	}
	return ByteSize(n) * factor, nil
}

func unitFactor(unit string) (ByteSize, bool) {
	switch unit {
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

// UnmarshalText lets ByteSize fields decode directly from yaml and
// mapstructure string values.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// String renders the size with the largest binary unit that fits.
func (b ByteSize) String() string {
	units := []struct {
		factor ByteSize
		suffix string
	}{
		{TiB, "TiB"},
		{GiB, "GiB"},
		{MiB, "MiB"},
		{KiB, "KiB"},
	}
	for _, u := range units {
		if b >= u.factor {
			return fmt.Sprintf("%.2f%s", float64(b)/float64(u.factor), u.suffix)
		}
	}
	return fmt.Sprintf("%dB", b)
}
