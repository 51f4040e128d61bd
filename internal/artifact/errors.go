package artifact

import "errors"

var (
	ErrNotFound      = errors.New("artifact not found")
	ErrMalformed     = errors.New("artifact is malformed")
	ErrHandoffExists = errors.New("handoff artifact already written")
)
