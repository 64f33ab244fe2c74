package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/services"
	"github.com/humblevault/humblevault/pkg/tools"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Library is the part of the library service the scheduler drives.
type Library interface {
	TriggerSync(ctx context.Context, update bool) (*models.PassSummary, error)
	Reconcile(ctx context.Context) (models.ReconcileResult, error)
}

type Schedule struct {
	SyncInterval      time.Duration
	ReconcileInterval time.Duration
	SyncOnStart       bool
}

// ScheduleSync sets up the periodic incremental pass and disk reconcile.
// Both stop when ctx is cancelled.
func ScheduleSync(ctx context.Context, lib Library, s Schedule) (*cron.Cron, error) {
	log := logrus.WithField("component", "scheduler")
	logger := cronLogger{log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if s.SyncInterval > 0 {
		if _, err := c.AddFunc(every(s.SyncInterval), func() { runSync(ctx, lib, log) }); err != nil {
			return nil, fmt.Errorf("schedule sync: %w", err)
		}
	}
	if s.ReconcileInterval > 0 {
		if _, err := c.AddFunc(every(s.ReconcileInterval), func() { runReconcile(ctx, lib, log) }); err != nil {
			return nil, fmt.Errorf("schedule reconcile: %w", err)
		}
	}
	c.Start()

	if s.SyncOnStart {
		if err := tools.Dispatch(ctx, "sync-on-start", func(ctx context.Context) error {
			runSync(ctx, lib, log)
			return nil
		}); err != nil {
			log.WithError(err).Warn("sync on start not dispatched")
		}
	}

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func runSync(ctx context.Context, lib Library, log *logrus.Entry) {
	if ctx.Err() != nil {
		return
	}
	summary, err := lib.TriggerSync(ctx, false)
	switch {
	case errors.Is(err, services.ErrNotConfigured):
		log.Debug("skipping scheduled sync: library not configured")
	case errors.Is(err, services.ErrSyncRunning):
		log.Debug("skipping scheduled sync: a pass is already running")
	case errors.Is(err, context.Canceled):
	case err != nil:
		log.WithError(err).Warn("scheduled sync failed")
	default:
		log.WithFields(logrus.Fields{
			"created": summary.Created,
			"updated": summary.Updated,
		}).Debug("scheduled sync finished")
	}
}

func runReconcile(ctx context.Context, lib Library, log *logrus.Entry) {
	if ctx.Err() != nil {
		return
	}
	res, err := lib.Reconcile(ctx)
	switch {
	case errors.Is(err, services.ErrNotConfigured), errors.Is(err, context.Canceled):
	case err != nil:
		log.WithError(err).Warn("scheduled reconcile failed")
	case res.Changed() > 0:
		log.WithField("changed", res.Changed()).Info("reconcile corrected downloaded flags")
	}
}

// cronLogger routes cron's own messages through logrus.
type cronLogger struct {
	log *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	out := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
