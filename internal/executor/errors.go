package executor

import "errors"

var (
	// ErrCredentialRequired is returned when escalation is requested
	// without a secret. Nothing is executed in that case.
	ErrCredentialRequired = errors.New("escalation credential required")
	// ErrIncorrectCredential is returned when sudo rejects the secret.
	ErrIncorrectCredential = errors.New("incorrect escalation credential")
	// ErrPermissionDenied is returned when the operation fails on
	// filesystem permissions without escalation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound is returned when the target does not exist.
	ErrNotFound = errors.New("target not found")
	// ErrAlreadyExists is returned when the target already exists.
	ErrAlreadyExists = errors.New("target already exists")
	// ErrNotEmpty is returned for a non-escalated delete of a directory
	// that still has entries.
	ErrNotEmpty = errors.New("directory not empty")
	// ErrUnsupported is returned for operation kinds or arguments the
	// executor refuses to run.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrProtectedPath is returned when the target is a system path the
	// agent never removes recursively.
	ErrProtectedPath = errors.New("protected system path")
	// ErrInternal wraps failures with no more specific classification.
	ErrInternal = errors.New("internal error")
)
