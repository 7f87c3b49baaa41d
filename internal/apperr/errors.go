// Package apperr defines the sentinel errors shared across mdlm.
package apperr

import "errors"

var (
	// ErrNotInitialized means the working directory has no manifest yet.
	ErrNotInitialized = errors.New("not initialized")
	// ErrAlreadyInitialized means a manifest already exists where clone
	// was asked to create one.
	ErrAlreadyInitialized = errors.New("already initialized")
	// ErrUnknownCategory means a category outside the fixed set was given.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrUnauthorized maps HTTP 401 from the remote service.
	ErrUnauthorized = errors.New("authentication failed")
	// ErrForbidden maps HTTP 403 from the remote service.
	ErrForbidden = errors.New("access denied")
	// ErrNotFound means a requested document or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means local and remote versions of a tracked document
	// have diverged since the last sync.
	ErrConflict = errors.New("conflict")
	// ErrNoCredentials means no API key could be found.
	ErrNoCredentials = errors.New("no API key found")
)
