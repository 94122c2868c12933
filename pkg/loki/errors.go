// Package loki pkg/loki/errors.go provides errors for the loki package.
package loki

import "errors"

var (
	// ErrBackendUnhealthy indicates the readiness probe failed and no
	// deletion request was issued.
	ErrBackendUnhealthy = errors.New("loki backend is not healthy")

	// ErrUnacceptableStatus indicates the delete request was rejected with a
	// status outside the accepted set.
	ErrUnacceptableStatus = errors.New("unacceptable response status")

	errBuildRequest = errors.New("failed to build request")
	errRequest      = errors.New("request failed")
)
