package store

import "errors"

var (
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrCodeExhausted = errors.New("booking code sequence exhausted")
)
