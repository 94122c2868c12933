// Package db pkg/db/errors.go provides errors for the db package.
package db

import "errors"

var (
	ErrFailedOpenDB      = errors.New("failed to open database")
	ErrFailedToEnableWAL = errors.New("failed to enable WAL mode")
	ErrFailedToInit      = errors.New("failed to initialize schema")
	ErrFailedToInsert    = errors.New("failed to insert")
	ErrFailedToQuery     = errors.New("failed to query")
	ErrFailedToScan      = errors.New("failed to scan")
	ErrFailedToClean     = errors.New("failed to clean")
)
