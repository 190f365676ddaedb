package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage agrupa fallos de I/O del almacén; abortan la operación en curso.
	ErrStorage  = errors.New("storage error")
	ErrNotFound = errors.New("record not found")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
