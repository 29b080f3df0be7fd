package domain

import "time"

// Idempotency records the outcome of an inbound gateway event keyed by
// (actor_id, applicant_id, key). The chat gateway retries deliveries; a
// replayed key returns the recorded outcome instead of re-running the
// transition and its side effects.
type Idempotency struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ActorID     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_actor_applicant_key,priority:1"`
	ApplicantID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_actor_applicant_key,priority:2"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_actor_applicant_key,priority:3"`
	Outcome     string    `gorm:"type:TEXT NOT NULL"`
	Status      int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
