// Package handle holds the public contract shared by the claim and lookup
// paths: how a raw handle is normalized, which normalized handles are valid,
// and the exact message a wallet signs to claim one.
package handle

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// Marker is the optional leading symbol users type before a handle.
const Marker = "@"

// Length bounds for a normalized handle.
const (
	MinLength = 3
	MaxLength = 32
)

// ErrInvalid indicates a handle that cannot be claimed.
var ErrInvalid = errors.New("invalid handle")

var (
	folder  = cases.Fold()
	pattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// Normalize strips one optional leading marker and case folds the rest.
// Claim and lookup must both go through here or claimed handles become
// unreachable.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, Marker)
	return strings.ToLower(folder.String(s))
}

// Validate reports whether an already normalized handle may be claimed.
func Validate(normalized string) error {
	if n := len(normalized); n < MinLength || n > MaxLength {
		return fmt.Errorf("%w: length must be between %d and %d", ErrInvalid, MinLength, MaxLength)
	}
	if !pattern.MatchString(normalized) {
		return fmt.Errorf("%w: only a-z, 0-9 and _ are allowed", ErrInvalid)
	}
	return nil
}
