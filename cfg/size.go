package cfg

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = []struct {
	suffix string
	shift  uint
}{
	{"kb", 10},
	{"mb", 20},
	{"gb", 30},
	{"k", 10},
	{"m", 20},
	{"g", 30},
}

// ParseSize reads a number of bytes with an optional k, kb, m, mb, g or gb suffix (any case).
// An empty value is zero.
func ParseSize(value string) (int64, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return 0, nil
	}
	var shift uint
	for _, unit := range sizeUnits {
		if strings.HasSuffix(value, unit.suffix) {
			value = strings.TrimSpace(strings.TrimSuffix(value, unit.suffix))
			shift = unit.shift
			break
		}
	}
	size, err := strconv.ParseInt(value, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	return size << shift, nil
}
