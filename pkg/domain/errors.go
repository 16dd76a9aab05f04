package domain

import "errors"

// ErrNoSessionFound is returned when a session ID cannot be found in the store,
// or when a bounded lookup did not complete in time.
var ErrNoSessionFound = errors.New("session not found")

// ErrRandomTokenNotFound is returned when no session carries the given random token.
var ErrRandomTokenNotFound = errors.New("no session found for random token")

// ErrAltIDNotFound is returned when no session carries the given alternative ID.
var ErrAltIDNotFound = errors.New("no session found for alternative id")

// ErrDuplicateAuthID is returned when another session already holds an auth ID.
var ErrDuplicateAuthID = errors.New("duplicate auth id")

// ErrSaveFailed is returned when a session could not be written to the store.
var ErrSaveFailed = errors.New("failed to save session")

// ErrRemoveFailed is returned when a session could not be removed from the store.
var ErrRemoveFailed = errors.New("failed to remove session")

// ErrStorageDown is returned once the backing store signalled that it is no longer usable.
var ErrStorageDown = errors.New("session storage is not available")

// ErrInterrupted is returned when a blocking wait was canceled by the caller.
var ErrInterrupted = errors.New("session storage operation interrupted")

// ErrUnexpected wraps store failures that fit no other category.
var ErrUnexpected = errors.New("unexpected session storage error")
