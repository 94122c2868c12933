// Package loki pkg/loki/interfaces.go
package loki

// CleanupRecorder receives counter updates for cleanup outcomes.
type CleanupRecorder interface {
	IncCleanupOperations()
	IncCleanupErrors()
}
