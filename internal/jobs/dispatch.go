package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/broadcast-server-go/internal/model"
)

// Runner executes one dispatch pass.
type Runner interface {
	RunOnce(ctx context.Context) (*model.DispatchReport, error)
}

// DispatchJob triggers dispatch passes on a cron schedule. A tick that fires
// while the previous pass is still running is skipped.
type DispatchJob struct {
	runner  Runner
	spec    string
	timeout time.Duration
	cron    *cron.Cron
}

func NewDispatchJob(runner Runner, spec string, timeout time.Duration) (*DispatchJob, error) {
	logger := cronLogger{log.With().Str("component", "dispatch_job").Logger()}
	j := &DispatchJob{
		runner:  runner,
		spec:    spec,
		timeout: timeout,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}

	if _, err := j.cron.AddFunc(spec, j.run); err != nil {
		return nil, fmt.Errorf("parse dispatch schedule %q: %w", spec, err)
	}
	return j, nil
}

func (j *DispatchJob) Start() {
	j.cron.Start()
	log.Info().Str("schedule", j.spec).Msg("dispatch job started")
}

// Stop prevents further ticks and waits for a running pass, up to ctx.
func (j *DispatchJob) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
		log.Warn().Msg("dispatch job stop timed out with a pass still running")
	}
	log.Info().Msg("dispatch job stopped")
}

func (j *DispatchJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	report, err := j.runner.RunOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("dispatch pass failed")
		return
	}
	if n := report.MarkRunFailures(); n > 0 {
		log.Error().Int("markRunFailures", n).Msg("dispatch pass left schedules unadvanced")
	}
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
