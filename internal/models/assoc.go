package models

import (
	"time"

	"gorm.io/datatypes"
)

// Vote records that a user voted on a thing. The composite unique index
// enforces one vote per (voter, thing) pair at the database level.
type Vote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	VoterID   uint      `gorm:"not null;uniqueIndex:idx_voter_thing" json:"voter_id"`
	Voter     User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ThingType string    `gorm:"size:20;not null;uniqueIndex:idx_voter_thing" json:"thing_type"`
	ThingID   uint      `gorm:"not null;uniqueIndex:idx_voter_thing;index" json:"thing_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription links a subscriber to the thing whose events they want.
// Rules carries per-subscription delivery options.
type Subscription struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	SubscriberID uint              `gorm:"not null;uniqueIndex:idx_sub_thing" json:"subscriber_id"`
	Subscriber   User              `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ThingType    string            `gorm:"size:20;not null;uniqueIndex:idx_sub_thing" json:"thing_type"`
	ThingID      uint              `gorm:"not null;uniqueIndex:idx_sub_thing;index" json:"thing_id"`
	Rules        datatypes.JSONMap `json:"rules"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Report flags a thing for moderation; one live report per (reporter,
// thing) pair, with the reason updatable in place.
type Report struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ReporterID uint      `gorm:"not null;uniqueIndex:idx_reporter_thing" json:"reporter_id"`
	Reporter   User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ThingType  string    `gorm:"size:20;not null;uniqueIndex:idx_reporter_thing" json:"thing_type"`
	ThingID    uint      `gorm:"not null;uniqueIndex:idx_reporter_thing;index" json:"thing_id"`
	Reason     string    `gorm:"size:255;not null" json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}
