package enrollment

import "errors"

var (
	ErrNotFound          = errors.New("enrollment not found")
	ErrSequenceNotFound  = errors.New("sequence not found")
	ErrSequenceInactive  = errors.New("sequence is not active")
	ErrNotActive         = errors.New("enrollment is not active")
	ErrConflict          = errors.New("enrollment changed concurrently")
	ErrAlreadyLive       = errors.New("subject already has a live enrollment in this sequence")
	ErrInvalidTransition = errors.New("invalid enrollment transition")
)
