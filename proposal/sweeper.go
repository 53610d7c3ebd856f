package proposal

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Sweeper periodically materializes time-derived transitions: response-window
// expiry and signature-deadline expiry. It writes through the same
// compare-and-set path as interactive calls, so racing an in-flight response
// or signature is safe.
type Sweeper struct {
	service  *Service
	interval time.Duration
	batch    int
	log      logrus.FieldLogger
}

func NewSweeper(service *Service, interval time.Duration, log logrus.FieldLogger) *Sweeper {
	return &Sweeper{
		service:  service,
		interval: interval,
		batch:    200,
		log:      log,
	}
}

func (w *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		w.batch = n
	}
	return w
}

// Run blocks until ctx is cancelled, sweeping once per interval. Sweep
// failures are logged and the loop keeps going; only cancellation stops it.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.SweepOnce(ctx); err != nil {
				w.log.WithError(err).Error("proposal sweep failed")
			}
		}
	}
}

// SweepOnce runs both sweeps concurrently and logs what they closed.
func (w *Sweeper) SweepOnce(ctx context.Context) error {
	var expired, deadlined int
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := w.service.SweepExpired(ctx, w.batch)
		expired = n
		return err
	})
	g.Go(func() error {
		n, err := w.service.SweepSignatureDeadlines(ctx, w.batch)
		deadlined = n
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if expired > 0 || deadlined > 0 {
		w.log.WithFields(logrus.Fields{
			"expired":           expired,
			"signature_expired": deadlined,
		}).Info("proposal sweep closed stale proposals")
	}
	return nil
}
