package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit rows for financial state changes. One table per entity so a
// table scan for one charge never touches earmark history.

type LogBase struct {
	ID       uint              `gorm:"primaryKey" json:"id"`
	ActorID  uint              `gorm:"index" json:"actor_id"`
	Action   string            `gorm:"size:40;not null" json:"action"`
	Data     datatypes.JSONMap `json:"data"`
	Blob     datatypes.JSON    `json:"-"`
	LoggedAt time.Time         `gorm:"autoCreateTime" json:"logged_at"`
}

type ChargeLog struct {
	LogBase
	ChargeID uint `gorm:"not null;index" json:"charge_id"`
}

type EarmarkLog struct {
	LogBase
	EarmarkID uint `gorm:"not null;index" json:"earmark_id"`
}

type MarkLog struct {
	LogBase
	MarkID uint `gorm:"not null;index" json:"mark_id"`
}

type RecipientLog struct {
	LogBase
	RecipientID uint `gorm:"not null;index" json:"recipient_id"`
}

type TransferLog struct {
	LogBase
	TransferID uint `gorm:"not null;index" json:"transfer_id"`
}
