// Package monitor pkg/monitor/interfaces.go
package monitor

import (
	"context"
	"time"

	"github.com/mfreeman451/lokiwatch/pkg/alerts"
	"github.com/mfreeman451/lokiwatch/pkg/db"
)

//go:generate mockgen -destination=mock_monitor.go -package=monitor github.com/mfreeman451/lokiwatch/pkg/monitor Cleaner,HistoryStore,Alerter

// Cleaner triggers a retention cleanup against the backend.
type Cleaner interface {
	RunCleanup(ctx context.Context) bool
}

// HistoryStore records cleanup attempts for auditing and prunes old rows.
type HistoryStore interface {
	RecordCleanup(rec *db.CleanupRecord) error
	Prune(olderThan time.Time) (int64, error)
}

// Alerter delivers threshold notifications.
type Alerter interface {
	Alert(ctx context.Context, alert *alerts.Alert) error
}
