package exporter

import (
	"context"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/goliatone/go-crm-batch/internal/metrics"
	"github.com/goliatone/go-crm-batch/repository"
	"github.com/goliatone/go-crm-batch/storage"
)

const cleanupBatch = 100

// Cleanup expires completed exports whose download window has closed.
type Cleanup struct {
	exports repository.ExportRepository
	files   storage.Storage
	clock   clock.Clock
	logger  *zap.SugaredLogger
}

func NewCleanup(exports repository.ExportRepository, files storage.Storage, opts ...Option) *Cleanup {
	o := buildOptions(opts)
	return &Cleanup{exports: exports, files: files, clock: o.clock, logger: o.logger}
}

// CleanupExpiredExports deletes expired artifacts, clears their references
// and marks the exports expired. It returns how many exports it expired; a
// second run right after returns 0.
func (c *Cleanup) CleanupExpiredExports(ctx context.Context) (int, error) {
	now := c.clock.Now().UTC()
	cleaned := 0
	for {
		batch, err := c.exports.FindExpired(ctx, now, cleanupBatch)
		if err != nil {
			return cleaned, err
		}
		progressed := 0
		for i := range batch {
			exp := &batch[i]
			if err := c.files.Delete(ctx, exp.Path()); err != nil {
				c.logger.Errorw("failed to delete expired export artifact", "export_id", exp.ID, "path", exp.Path(), "err", err)
				continue
			}
			ok, err := c.exports.MarkExpired(ctx, exp)
			if err != nil {
				return cleaned, err
			}
			progressed++
			if ok {
				cleaned++
				metrics.ExportsExpired.Inc()
			}
		}
		// rows whose artifact could not be deleted come back every batch
		if len(batch) < cleanupBatch || progressed == 0 {
			break
		}
	}
	if cleaned > 0 {
		c.logger.Infow("expired exports cleaned", "count", cleaned)
	}
	return cleaned, nil
}
