// Package repository implements the authoritative account store on MySQL.
// The sentinel errors below let higher layers distinguish input problems
// from dependency failures.
package repository

import "errors"

// ErrInvalidPage is returned when a page request has a negative offset or
// a non-positive limit.
var ErrInvalidPage = errors.New("invalid page bounds")

// ErrAccountNotFound is returned when an update names a number with no
// stored account.
var ErrAccountNotFound = errors.New("account not found")

// ErrEmptyNumber is returned when an account without a number is written.
var ErrEmptyNumber = errors.New("account number is empty")
