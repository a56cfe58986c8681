package api

import (
	"fmt"
	"strconv"
)

// ParseIntParam parses the integer query parameter name, returning def when
// value is empty and an error naming the parameter when it is outside [lo, hi].
func ParseIntParam(name, value string, lo, hi, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer", name)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}
	return v, nil
}
