package routing

import "errors"

var (
	ErrNotNiche   = errors.New("tag does not carry a niche")
	ErrNoResource = errors.New("no active resource available")
)
