package notify

import "errors"

var (
	// ErrInvalidTitle rejects a creation before any permission traffic or
	// agent dispatch happens.
	ErrInvalidTitle = errors.New("notify: title must be a non-empty string")

	// ErrPermissionDenied is returned when the permission prompt is declined.
	// No registry state is left behind.
	ErrPermissionDenied = errors.New("notify: permission request declined")

	// ErrUnknownInterface is returned when no agent supports the context.
	ErrUnknownInterface = errors.New("notify: unknown interface")
)
