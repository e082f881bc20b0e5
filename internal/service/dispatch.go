package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	apperrors "github.com/openclaw/broadcast-server-go/internal/errors"
	"github.com/openclaw/broadcast-server-go/internal/gateway"
	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/repository"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

const markRunTimeout = 10 * time.Second

// ScheduleListener is told about every schedule as soon as it was processed.
type ScheduleListener interface {
	ScheduleProcessed(ctx context.Context, report model.ScheduleReport)
}

// RunListener is told about every finished dispatch pass.
type RunListener interface {
	DispatchFinished(ctx context.Context, report *model.DispatchReport)
}

type DispatchOptions struct {
	// Concurrency is the number of schedules processed at once.
	Concurrency int
	// SendRate caps sends per second across all schedules. Zero means unlimited.
	SendRate float64
}

// DispatchEngine sends due schedules. It does not schedule itself; a timer or
// the dispatch command calls RunOnce.
type DispatchEngine struct {
	schedules repository.ScheduleRepository
	accounts  repository.AccountRepository
	gateway   gateway.Gateway

	concurrency int
	sendLimiter *rate.Limiter
	// single-slot guard: last_run has no optimistic lock, so passes must not overlap
	running *semaphore.Weighted
	owners  singleflight.Group

	scheduleListeners []ScheduleListener
	runListeners      []RunListener
	now               func() time.Time
}

func NewDispatchEngine(
	schedules repository.ScheduleRepository,
	accounts repository.AccountRepository,
	gw gateway.Gateway,
	opts DispatchOptions,
) *DispatchEngine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}
	return &DispatchEngine{
		schedules:   schedules,
		accounts:    accounts,
		gateway:     gw,
		concurrency: opts.Concurrency,
		sendLimiter: rate.NewLimiter(limit, 1),
		running:     semaphore.NewWeighted(1),
		now:         time.Now,
	}
}

func (e *DispatchEngine) AddScheduleListener(l ScheduleListener) {
	e.scheduleListeners = append(e.scheduleListeners, l)
}

func (e *DispatchEngine) AddRunListener(l RunListener) {
	e.runListeners = append(e.runListeners, l)
}

// RunOnce processes every schedule due at the time of the call. A second
// caller waits for a running pass to finish. Only a failure to list due
// schedules is returned as an error; everything else lands in the report.
func (e *DispatchEngine) RunOnce(ctx context.Context) (*model.DispatchReport, error) {
	if err := e.running.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.running.Release(1)

	now := e.now()
	due, err := e.schedules.ListDue(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("dispatch: failed to list due schedules")
		return nil, apperrors.Repository(err)
	}

	report := &model.DispatchReport{
		StartedAt: now,
		Due:       len(due),
		Schedules: make([]model.ScheduleReport, len(due)),
	}

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range due {
		g.Go(func() error {
			report.Schedules[i] = e.dispatchSchedule(ctx, &due[i], now)
			for _, l := range e.scheduleListeners {
				l.ScheduleProcessed(ctx, report.Schedules[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = e.now()
	e.logRun(report)

	for _, l := range e.runListeners {
		l.DispatchFinished(ctx, report)
	}
	return report, nil
}

func (e *DispatchEngine) dispatchSchedule(ctx context.Context, s *model.Schedule, now time.Time) model.ScheduleReport {
	rep := model.ScheduleReport{
		ScheduleID: s.ID,
		Owner:      s.Owner,
		LastRun:    s.LastRun,
	}
	logger := log.With().
		Str("scheduleId", s.ID).
		Str("owner", util.MaskIdentifier(s.Owner)).
		Logger()

	account, err := e.owner(ctx, s.Owner)
	switch {
	case err != nil:
		rep.Outcome = model.OutcomeOwnerLookupFailed
		rep.Error = err.Error()
		logger.Warn().Err(err).Msg("dispatch: owner lookup failed, schedule skipped")
		return rep
	case !account.HasCredential():
		rep.Outcome = model.OutcomeSkippedUnauthenticated
		rep.Error = apperrors.UnauthenticatedOwner(util.MaskIdentifier(s.Owner)).Message
		logger.Info().Msg("dispatch: owner has no credential, schedule skipped")
		return rep
	case !account.Active:
		rep.Outcome = model.OutcomeSkippedInactive
		rep.Error = "owner account is deactivated"
		logger.Info().Msg("dispatch: owner inactive, schedule skipped")
		return rep
	}

	if len(s.Targets) == 0 {
		rep.Outcome = model.OutcomeSkippedNoTargets
		rep.Error = "schedule has no targets"
		logger.Warn().Msg("dispatch: schedule has no targets, skipped")
		return rep
	}

	rep.Targets = e.deliver(ctx, s, *account.Credential, logger)
	rep.Outcome = model.OutcomeFor(rep.Targets)
	if rep.Outcome == model.OutcomeCancelled {
		rep.Error = "pass ended before any target was attempted"
		logger.Warn().Msg("dispatch: pass cancelled before sending, last_run left unchanged")
		return rep
	}

	// Once any target was attempted last_run advances whatever the outcome,
	// and even when the caller gave up mid-schedule, so targets already
	// reached are not sent to again.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markRunTimeout)
	defer cancel()
	if err := e.schedules.MarkRun(markCtx, s.ID, now); err != nil {
		rep.MarkRunError = err.Error()
		logger.Error().
			Err(err).
			Bool("resendRisk", true).
			Msg("dispatch: failed to advance last_run, schedule may be sent again on next pass")
	} else {
		rep.LastRun = now.Unix()
	}

	logger.Info().
		Str("outcome", string(rep.Outcome)).
		Int("delivered", rep.Delivered()).
		Int("failed", rep.Failed()).
		Int("notAttempted", rep.NotAttempted()).
		Msg("dispatch: schedule processed")
	return rep
}

// owner shares concurrent lookups of the same account within a pass.
func (e *DispatchEngine) owner(ctx context.Context, identifier string) (*model.Account, error) {
	v, err, _ := e.owners.Do(identifier, func() (interface{}, error) {
		return e.accounts.Get(ctx, identifier)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Account), nil
}

// deliver sends to each target in order on one gateway session. A failed
// target is recorded and the rest still get their attempt. Targets left when
// ctx ends are marked not attempted.
func (e *DispatchEngine) deliver(ctx context.Context, s *model.Schedule, credential string, logger zerolog.Logger) []model.TargetResult {
	results := make([]model.TargetResult, len(s.Targets))
	for i, target := range s.Targets {
		results[i].Target = target
	}

	if err := ctx.Err(); err != nil {
		notAttempted(results, err)
		return results
	}

	session, err := e.gateway.OpenSession(ctx, gateway.FromCredential(credential))
	if err != nil {
		if ctx.Err() != nil {
			notAttempted(results, ctx.Err())
			return results
		}
		logger.Warn().Err(err).Msg("dispatch: could not open gateway session")
		for i := range results {
			results[i].Error = fmt.Sprintf("open session: %v", err)
		}
		return results
	}
	defer func() {
		if err := e.gateway.CloseSession(context.WithoutCancel(ctx), session); err != nil {
			logger.Warn().Err(err).Msg("dispatch: failed to close gateway session")
		}
	}()

	for i, target := range s.Targets {
		if err := e.sendLimiter.Wait(ctx); err != nil {
			notAttempted(results[i:], err)
			logger.Warn().Err(err).Int("notAttempted", len(results)-i).Msg("dispatch: pass ended mid-schedule")
			break
		}
		if err := session.SendText(ctx, target, s.Message); err != nil {
			results[i].Error = apperrors.DeliveryFailed(target, err).Error()
			logger.Warn().Err(err).Str("target", target).Msg("dispatch: delivery failed")
			continue
		}
		results[i].Delivered = true
	}
	return results
}

func notAttempted(results []model.TargetResult, cause error) {
	for i := range results {
		results[i].NotAttempted = true
		results[i].Error = cause.Error()
	}
}

func (e *DispatchEngine) logRun(report *model.DispatchReport) {
	event := log.Info()
	if report.HasProblems() {
		event = log.Warn()
	}
	event.
		Int("due", report.Due).
		Int("delivered", report.Count(model.OutcomeDelivered)).
		Int("partial", report.Count(model.OutcomePartial)).
		Int("failed", report.Count(model.OutcomeFailed)).
		Int("skippedUnauthenticated", report.Count(model.OutcomeSkippedUnauthenticated)).
		Int("skippedInactive", report.Count(model.OutcomeSkippedInactive)).
		Int("ownerLookupFailed", report.Count(model.OutcomeOwnerLookupFailed)).
		Int("skippedNoTargets", report.Count(model.OutcomeSkippedNoTargets)).
		Int("cancelled", report.Count(model.OutcomeCancelled)).
		Int("notAttemptedTargets", report.NotAttemptedTargets()).
		Int("markRunFailures", report.MarkRunFailures()).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("dispatch pass finished")
}
