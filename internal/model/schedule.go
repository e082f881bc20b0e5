package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Schedule struct {
	ID              string  `db:"id" json:"id"`
	Owner           string  `db:"owner" json:"owner"`
	Message         string  `db:"message" json:"message"`
	Targets         Targets `db:"targets" json:"targets"`
	IntervalMinutes int     `db:"interval_minutes" json:"intervalMinutes"`
	LastRun         int64   `db:"last_run" json:"lastRun"`
	CreatedAt       int64   `db:"created_at" json:"createdAt"`
}

func (s *Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// IsDue reports whether at least one interval elapsed since LastRun.
// A schedule that never ran (LastRun == 0) is always due.
func (s *Schedule) IsDue(now time.Time) bool {
	return now.Unix()-s.LastRun >= int64(s.IntervalMinutes)*60
}

type CreateScheduleParams struct {
	Owner           string
	Message         string
	Targets         Targets
	IntervalMinutes int
}

// Targets is an ordered set of conversation ids, stored as a JSON array.
type Targets []string

// NormalizeTargets trims ids, drops empties and duplicates, keeping first-seen order.
func NormalizeTargets(ids []string) Targets {
	seen := make(map[string]struct{}, len(ids))
	out := make(Targets, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (t Targets) Value() (driver.Value, error) {
	if t == nil {
		t = Targets{}
	}
	data, err := json.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (t *Targets) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*t = Targets{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("targets: unsupported column type %T", src)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("targets: %w", err)
	}
	*t = Targets(ids)
	return nil
}
