// Package alerts pkg/alerts/interfaces.go
package alerts

import "context"

// AlertService is implemented by anything that can deliver a storage alert.
type AlertService interface {
	Alert(ctx context.Context, alert *Alert) error
	IsEnabled() bool
}
