package models

import (
	"time"
)

// All amounts are integral cents. Charges and Marks are fund sources with a
// Remaining balance drained FIFO; Earmarks and Transfers are sinks.

var (
	ChargeStatuses   = Enum{"Pending", "Cleared"}
	EarmarkStatuses  = Enum{"Created", "Ready", "Assigned", "Disputed"}
	TransferStatuses = Enum{"Pending", "Cleared"}
)

const (
	ChargePending = iota
	ChargeCleared
)

const (
	EarmarkCreated = iota
	EarmarkReady
	EarmarkAssigned
	EarmarkDisputed
)

// Charge mirrors a card charge made through the payment processor.
type Charge struct {
	ID        uint  `gorm:"primaryKey" json:"id"`
	UserID    uint  `gorm:"not null;index" json:"user_id"`
	User      User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Amount    int64 `gorm:"not null;check:amount > 0" json:"amount"`
	Remaining int64 `gorm:"not null" json:"remaining"`
	Status    int   `gorm:"default:0;not null" json:"status_raw"`
	Cleared   bool  `gorm:"default:false;not null" json:"cleared"`
	Livemode  bool  `gorm:"default:false;not null" json:"livemode"`

	ProcessorID        string    `gorm:"uniqueIndex;not null" json:"-"`
	ProcessorCreatedAt time.Time `json:"-"`
	LastFour           string    `gorm:"size:4" json:"last_four"`

	CreatedAt time.Time `json:"created_at"`
}

func (c *Charge) PrimaryID() uint    { return c.ID }
func (c *Charge) ACLName() string    { return "charge" }
func (c *Charge) StatusName() string { return ChargeStatuses.Name(c.Status) }

func (c *Charge) Roles(caller *User) []string {
	return privateRoles(c.UserID, caller)
}

// Earmark is a user's pledge of funds toward a thing. It matures, gets
// assigned to recipients as Marks, and finally clears.
type Earmark struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	UserID    uint   `gorm:"not null;index" json:"user_id"`
	User      User   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ThingType string `gorm:"size:20;not null" json:"thing_type"`
	ThingID   uint   `gorm:"not null;index" json:"thing_id"`
	Amount    int64  `gorm:"not null;check:amount > 0" json:"amount"`
	Fee       int64  `gorm:"not null" json:"fee"`
	Status    int    `gorm:"default:0;not null" json:"status_raw"`

	// Financial state, kept separate from Status on purpose.
	Matured  bool `gorm:"default:false;not null" json:"matured"`
	Cleared  bool `gorm:"default:false;not null" json:"cleared"`
	Disputed bool `gorm:"default:false;not null" json:"disputed"`
	Frozen   bool `gorm:"default:false;not null" json:"frozen"`
	Closed   bool `gorm:"default:false;not null" json:"closed"`

	Marks []Mark `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (e *Earmark) PrimaryID() uint    { return e.ID }
func (e *Earmark) ACLName() string    { return "earmark" }
func (e *Earmark) StatusName() string { return EarmarkStatuses.Name(e.Status) }

// Roles requires Marks to be preloaded for the receiver check.
func (e *Earmark) Roles(caller *User) []string {
	if caller == nil {
		return []string{"anonymous"}
	}
	for _, mark := range e.Marks {
		if mark.UserID == caller.ID {
			return []string{"receiver"}
		}
	}
	if caller.ID == e.UserID {
		return []string{"sender"}
	}
	return []string{"user"}
}

// Mark is the slice of an earmark declared to a single recipient. Once
// cleared it doubles as a fund source for transfers.
type Mark struct {
	ID        uint  `gorm:"primaryKey" json:"id"`
	EarmarkID uint  `gorm:"not null;index" json:"earmark_id"`
	UserID    uint  `gorm:"not null;index" json:"user_id"`
	User      User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Amount    int64 `gorm:"not null" json:"amount"`
	Remaining int64 `gorm:"not null" json:"remaining"`
	Perc      int   `gorm:"not null;check:perc > 0" json:"perc"`
	Cleared   bool  `gorm:"default:false;not null" json:"cleared"`

	CreatedAt time.Time `json:"created_at"`
}

func (m *Mark) PrimaryID() uint { return m.ID }
func (m *Mark) ACLName() string { return "mark" }

func (m *Mark) Roles(caller *User) []string {
	return privateRoles(m.UserID, caller)
}

// Recipient mirrors a verified bank account at the payment processor.
type Recipient struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UserID   uint   `gorm:"not null;index" json:"user_id"`
	User     User   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Name     string `gorm:"not null" json:"name"`
	Verified bool   `gorm:"default:false;not null" json:"verified"`
	Livemode bool   `gorm:"default:false;not null" json:"livemode"`

	ProcessorID        string    `gorm:"uniqueIndex" json:"-"`
	ProcessorCreatedAt time.Time `json:"-"`
	LastFour           string    `gorm:"size:4" json:"last_four"`

	CreatedAt time.Time `json:"created_at"`
}

func (r *Recipient) PrimaryID() uint { return r.ID }
func (r *Recipient) ACLName() string { return "recipient" }

func (r *Recipient) Roles(caller *User) []string {
	return privateRoles(r.UserID, caller)
}

// Transfer mirrors a processor payout to a recipient, funded by draining
// the user's cleared marks.
type Transfer struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	User        User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	RecipientID uint      `gorm:"not null;index" json:"recipient_id"`
	Recipient   Recipient `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Amount      int64     `gorm:"not null;check:amount > 0" json:"amount"`
	Status      int       `gorm:"default:0;not null" json:"status_raw"`
	Cleared     bool      `gorm:"default:false;not null" json:"cleared"`

	ProcessorID string `gorm:"uniqueIndex;not null" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (t *Transfer) PrimaryID() uint    { return t.ID }
func (t *Transfer) ACLName() string    { return "transfer" }
func (t *Transfer) StatusName() string { return TransferStatuses.Name(t.Status) }

func (t *Transfer) Roles(caller *User) []string {
	return privateRoles(t.UserID, caller)
}

func privateRoles(ownerID uint, caller *User) []string {
	if caller == nil {
		return []string{"anonymous"}
	}
	if caller.ID == ownerID {
		return []string{"owner"}
	}
	return []string{"user"}
}
