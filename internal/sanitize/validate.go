package sanitize

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidAccountID indicates an account ID the API will not store.
	ErrInvalidAccountID = errors.New("invalid account ID format")

	// ErrInvalidItemID indicates a draft or candidate ID the API will not store.
	ErrInvalidItemID = errors.New("invalid item ID format")
)

// Printable, no whitespace or slashes, 1-128 chars. Slashes would break
// the /accounts/:id routes.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@+-]{0,127}$`)

// AccountID checks an account identifier supplied by a client.
func AccountID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidAccountID, id)
	}
	return nil
}

// ItemID checks a candidate item identifier supplied by a client.
func ItemID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidItemID, id)
	}
	return nil
}
