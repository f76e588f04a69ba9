package contracts

import "errors"

var (
	ErrInvalidAgent    = errors.New("invalid agent identity")
	ErrInvalidContract = errors.New("invalid handoff contract")
)
