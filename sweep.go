package referral

import (
	"context"
	"time"
)

// SweepExpired expires active referrals whose window has closed, in batches,
// and returns how many it changed. It complements the lazy expiry done by
// RecordCommission so stats stop counting stale referrals as active.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		batch, err := e.store.ListExpiredActive(ctx, e.now(), e.sweepBatchSize)
		if err != nil {
			return total, err
		}

		changed := 0
		for _, r := range batch {
			ok, err := e.expire(ctx, r)
			if err != nil {
				return total, err
			}
			if ok {
				changed++
			}
		}
		total += changed

		// A short batch is the last one; a batch where nothing changed means
		// another sweeper is racing us over the same rows.
		if len(batch) < e.sweepBatchSize || changed == 0 {
			return total, nil
		}
	}
}

// expirySweepWorker runs SweepExpired on a ticker until Stop.
func (e *Engine) expirySweepWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			start := time.Now()
			n, err := e.SweepExpired(ctx)
			if err != nil {
				e.logger.Error("expiry sweep failed",
					"error", err,
					"expired", n,
				)
				continue
			}
			if n > 0 {
				e.logger.Debug("expiry sweep finished",
					"expired", n,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
			}
		}
	}
}
