package tagging

import "errors"

var (
	ErrEmptySubject = errors.New("subject id is required")
	ErrEmptyLabel   = errors.New("tag label is required")
)
