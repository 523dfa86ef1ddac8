package knowledge

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidStoreName indicates a store name that cannot be used as a
// PostgreSQL identifier. Names are rejected, never transformed.
var ErrInvalidStoreName = errors.New("invalid store name")

// storeNamePattern constrains store names to safe, unquoted PostgreSQL
// identifiers: lowercase start, then lowercase letters, digits and
// underscores, at most 63 bytes total (the PostgreSQL identifier limit).
var storeNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidateStoreName checks that name is usable as a table name and as the
// suffix of the store's match function. Store names are interpolated into
// DDL, so anything outside the pattern is refused outright.
func ValidateStoreName(name string) error {
	if !storeNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidStoreName, name, storeNamePattern)
	}
	return nil
}
