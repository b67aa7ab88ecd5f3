package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Pruner is implemented by audit log repositories.
type Pruner interface {
	DeleteOlderThan(days int) (int64, error)
}

// RetentionService periodically deletes audit rows older than the
// configured number of days.
type RetentionService struct {
	tables   map[string]Pruner
	days     int
	interval time.Duration
}

// NewRetentionService creates a retention loop over the named repositories.
func NewRetentionService(tables map[string]Pruner, days int, interval time.Duration) *RetentionService {
	return &RetentionService{tables: tables, days: days, interval: interval}
}

// Run prunes once immediately and then on every tick until ctx is done.
func (r *RetentionService) Run(ctx context.Context) {
	r.Prune()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune()
		}
	}
}

// Prune deletes expired rows from every table and returns the counts.
func (r *RetentionService) Prune() map[string]int64 {
	deleted := make(map[string]int64, len(r.tables))
	for name, table := range r.tables {
		n, err := table.DeleteOlderThan(r.days)
		if err != nil {
			logrus.Warnf("Failed to prune %s: %v", name, err)
			continue
		}
		deleted[name] = n
		if n > 0 {
			logrus.Infof("Pruned %d %s older than %d days", n, name, r.days)
		}
	}
	return deleted
}
