package tools

import "errors"

// Registration errors.
var (
	ErrToolNameEmpty         = errors.New("tool name cannot be empty")
	ErrToolExecuteNil        = errors.New("tool has no execute function")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

// Call errors are reported back to the model as tool output so it can
// correct the call.
var (
	ErrToolNotFound       = errors.New("tool not found")
	ErrMissingRequiredArg = errors.New("missing required argument")
	ErrInvalidArgType     = errors.New("invalid argument type")
)
