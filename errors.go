package gitclient

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by both backends. Check them with errors.Is().

// ErrAlreadyUpToDate is returned by a backend when a fetch transferred nothing.
// Client.Fetch maps it to a nil error.
var ErrAlreadyUpToDate = errors.New("already up to date")

// ErrAuthRequired is returned when the remote asked for credentials and none applied.
var ErrAuthRequired = errors.New("authentication required")

// ErrAuthFailed is returned when the remote rejected the supplied credentials.
var ErrAuthFailed = errors.New("authentication failed")

// ErrRemoteNotFound is returned when a named remote or the remote repository
// does not exist.
var ErrRemoteNotFound = errors.New("remote not found")

// ErrInvalidOptions is returned by Options.Validate.
var ErrInvalidOptions = errors.New("invalid options")

// ErrRepositoryNotFound is returned when a local directory is not a git repository.
var ErrRepositoryNotFound = errors.New("repository does not exist")

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// joinSentinel attaches a sentinel to err so both match errors.Is.
func joinSentinel(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
