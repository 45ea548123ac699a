// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyInUse indicates the identity provider already holds an account for the email.
	ErrAlreadyInUse = errors.New("email already in use")

	// ErrInvalidCredential indicates a sign-in with a wrong email/secret pair.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller is authenticated but lacks a permission.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary sign-in lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidTransition indicates a waitlist status change that is not allowed.
	ErrInvalidTransition = errors.New("invalid waitlist transition")

	// ErrValidation indicates malformed input (bad email, weak secret, empty id).
	ErrValidation = errors.New("validation")

	// ErrVerificationMismatch indicates an issued secret failed its sign-in check.
	ErrVerificationMismatch = errors.New("secret could not be verified")
)

// ProviderError is a non-recoverable identity provider failure. It aborts the
// running operation and is surfaced to the caller.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StoreWriteError describes a failed merge-write. It is logged and reported,
// never used to abort sibling writes.
type StoreWriteError struct {
	Collection string
	ID         string
	Err        error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("write %s/%s: %v", e.Collection, e.ID, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }
