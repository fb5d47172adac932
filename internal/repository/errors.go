package repository

import "errors"

var (
	// ErrRecordNotFound means the requested row does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrUnavailable wraps failures reaching the relational store.
	ErrUnavailable = errors.New("persistence unavailable")
)
