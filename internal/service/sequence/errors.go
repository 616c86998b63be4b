package sequence

import "errors"

var (
	ErrNotFound = errors.New("sequence not found")
	ErrInvalid  = errors.New("sequence definition is invalid")
)
