package repository

import (
	"context"
	"errors"
	"time"

	"github.com/openclaw/broadcast-server-go/internal/database"
	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

var ErrScheduleNotFound = errors.New("schedule not found")

const scheduleColumns = `id, owner, message, targets, interval_minutes, last_run, created_at`

type ScheduleRepository interface {
	Create(ctx context.Context, params model.CreateScheduleParams) (*model.Schedule, error)
	ListByOwner(ctx context.Context, owner string) ([]model.Schedule, error)
	// ListDue returns schedules with now - last_run >= interval, oldest id first.
	ListDue(ctx context.Context, now time.Time) ([]model.Schedule, error)
	// MarkRun sets last_run. It fails with ErrScheduleNotFound when no row changed.
	MarkRun(ctx context.Context, id string, ts time.Time) error
}

type scheduleRepo struct {
	db database.DBTX
}

func NewScheduleRepository(db database.DBTX) ScheduleRepository {
	return &scheduleRepo{db: db}
}

func (r *scheduleRepo) Create(ctx context.Context, params model.CreateScheduleParams) (*model.Schedule, error) {
	now := time.Now()
	schedule := model.Schedule{
		ID:              util.NewID(now),
		Owner:           params.Owner,
		Message:         params.Message,
		Targets:         model.NormalizeTargets(params.Targets),
		IntervalMinutes: params.IntervalMinutes,
		CreatedAt:       now.Unix(),
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO schedules (id, owner, message, targets, interval_minutes, last_run, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`), schedule.ID, schedule.Owner, schedule.Message, schedule.Targets, schedule.IntervalMinutes, schedule.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *scheduleRepo) ListByOwner(ctx context.Context, owner string) ([]model.Schedule, error) {
	schedules := []model.Schedule{}
	err := r.db.SelectContext(ctx, &schedules, r.db.Rebind(`
		SELECT `+scheduleColumns+` FROM schedules WHERE owner = ? ORDER BY id
	`), owner)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *scheduleRepo) ListDue(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	var schedules []model.Schedule
	err := r.db.SelectContext(ctx, &schedules, r.db.Rebind(`
		SELECT `+scheduleColumns+` FROM schedules
		WHERE last_run <= CAST(? AS BIGINT) - interval_minutes * 60
		ORDER BY id
	`), now.Unix())
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *scheduleRepo) MarkRun(ctx context.Context, id string, ts time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE schedules SET last_run = ? WHERE id = ?
	`), ts.Unix(), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}
