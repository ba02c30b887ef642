package credentials

import (
	"errors"
	"fmt"
)

// ErrCredentialNotFound is returned by Resolve when no binding and no default
// credential applies to a URL. Callers decide whether anonymous access is acceptable.
var ErrCredentialNotFound = errors.New("no credential available")

// ErrUnsupportedCredentialItem is returned when a credential was found but
// cannot fill one of the requested items. It always indicates a configuration bug.
var ErrUnsupportedCredentialItem = errors.New("credential cannot fill requested item")

// UnsupportedItemError reports which credential failed to fill which item.
type UnsupportedItemError struct {
	CredentialID string
	Item         string
}

func (e *UnsupportedItemError) Error() string {
	return fmt.Sprintf("credential %q cannot fill item %q", e.CredentialID, e.Item)
}

// Unwrap lets errors.Is match ErrUnsupportedCredentialItem.
func (e *UnsupportedItemError) Unwrap() error {
	return ErrUnsupportedCredentialItem
}
