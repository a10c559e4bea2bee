package main

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrReferentialIntegrity = errors.New("referential integrity")
	ErrIntegrityViolation   = errors.New("integrity violation")
	ErrDuplicateKey         = errors.New("duplicate key")
	ErrInvalidInput         = errors.New("invalid input")
)

// NotFoundError is returned when a lookup by ID finds no row.
type NotFoundError struct {
	Entity string
	ID     uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ReferentialIntegrityError is returned when a write references a row that
// does not exist. Nothing is written.
type ReferentialIntegrityError struct {
	Entity string
	ID     uint64
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("referenced %s %d does not exist", e.Entity, e.ID)
}

func (e *ReferentialIntegrityError) Is(target error) bool {
	return target == ErrReferentialIntegrity
}

// IntegrityViolationError means a stored play points at a program or
// recording that is gone. The data is corrupt; callers must not hide it.
type IntegrityViolationError struct {
	PlayID uint64
	Err    error
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("integrity violation: play %d: %s", e.PlayID, e.Err)
}

func (e *IntegrityViolationError) Is(target error) bool {
	return target == ErrIntegrityViolation
}

func (e *IntegrityViolationError) Unwrap() error {
	return e.Err
}
