package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a wall-clock time (hour, minute) with no date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MinutesBefore returns the time of day d minutes earlier, wrapping at
// midnight. Used to fire reminders ahead of the scheduled intake.
func (t TimeOfDay) MinutesBefore(d int) TimeOfDay {
	total := t.Hour*60 + t.Minute - d
	for total < 0 {
		total += 24 * 60
	}
	total %= 24 * 60
	return TimeOfDay{Hour: total / 60, Minute: total % 60}
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case []byte:
		return t.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

// Pill is a tracked medication. ID is the stable local identifier used by
// clients; RemoteID is the server-assigned row id in the mirror store and
// stays nil until the first successful sync.
type Pill struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	RemoteID       *uuid.UUID `db:"remote_id" json:"remote_id,omitempty"`
	Name           string     `db:"name" json:"name"`
	ScheduledAt    TimeOfDay  `db:"scheduled_at" json:"scheduled_at"`
	Taken          bool       `db:"taken" json:"taken"`
	LastTakenAt    *time.Time `db:"last_taken_at" json:"last_taken_at,omitempty"`
	ReminderHandle string     `db:"reminder_handle" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Clone returns a copy safe to hand out of the store.
func (p *Pill) Clone() *Pill {
	c := *p
	if p.RemoteID != nil {
		id := *p.RemoteID
		c.RemoteID = &id
	}
	if p.LastTakenAt != nil {
		t := *p.LastTakenAt
		c.LastTakenAt = &t
	}
	return &c
}

type CreatePillRequest struct {
	Name        string `json:"name" binding:"required"`
	ScheduledAt string `json:"scheduled_at" binding:"required,timeofday"`
}
