package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedValue is returned when a cell is not a non-negative integer.
var ErrMalformedValue = errors.New("malformed value")

// MalformedValueError carries the offending cell text.
type MalformedValueError struct {
	Raw    string
	Reason string
}

func (e *MalformedValueError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrMalformedValue, e.Raw, e.Reason)
}

func (e *MalformedValueError) Unwrap() error { return ErrMalformedValue }

// groupedRe accepts plain digit runs or German-style thousands grouping
// ("1.234.567"). Any other use of '.' is a decimal or a typo.
var groupedRe = regexp.MustCompile(`^(\d+|\d{1,3}(\.\d{3})+)$`)

// ParseValue converts a locale-formatted count such as "1.234" into 1234.
// It never rounds or clamps: decimals, signs, stray characters and values
// that overflow int64 are rejected.
func ParseValue(raw string) (int64, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "\u00a0", " "))
	if s == "" {
		return 0, &MalformedValueError{Raw: raw, Reason: "empty"}
	}
	if !groupedRe.MatchString(s) {
		return 0, &MalformedValueError{Raw: raw, Reason: "not a grouped integer"}
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ".", ""), 10, 64)
	if err != nil {
		return 0, &MalformedValueError{Raw: raw, Reason: "out of range"}
	}
	return n, nil
}

// absentMarkers are cell texts the ministry uses for "no figure published".
var absentMarkers = map[string]struct{}{
	"":     {},
	"-":    {},
	"–":    {},
	"—":    {},
	"n.v.": {},
}

// IsAbsentMarker reports whether a cell means "not reported" rather than a count.
func IsAbsentMarker(raw string) bool {
	_, ok := absentMarkers[strings.TrimSpace(strings.ReplaceAll(raw, "\u00a0", " "))]
	return ok
}
