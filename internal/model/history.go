package model

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is an immutable record of one intake event. PillName is a
// snapshot taken at the time of the event so entries stay readable after
// the pill is renamed or deleted.
type HistoryEntry struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PillID         uuid.UUID `db:"pill_id" json:"pill_id"`
	InstallationID uuid.UUID `db:"installation_id" json:"installation_id"`
	PillName       string    `db:"pill_name" json:"pill_name"`
	TakenAt        time.Time `db:"taken_at" json:"taken_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
