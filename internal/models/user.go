package models

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"crowdlink/internal/events"
)

type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Password string `gorm:"not null" json:"-"` // bcrypt hash

	// Balances in cents. Available is what new earmarks may draw on;
	// current tracks funds that have not yet cleared out.
	AvailableBalance int64 `gorm:"default:0;not null" json:"available_balance"`
	CurrentBalance   int64 `gorm:"default:0;not null" json:"current_balance"`

	Role        string `gorm:"size:20;default:'user';not null" json:"role"`
	IsActivated bool   `gorm:"default:false" json:"is_activated"`
	VerifyCode  string `gorm:"size:20" json:"-"`

	// OAuth links. Tokens never leave the server; linkage is exposed via
	// the gh_linked/tw_linked/go_linked computed fields.
	GhID    string `gorm:"index" json:"-"`
	GhToken string `json:"-"`
	TwID    string `gorm:"index" json:"-"`
	TwToken string `json:"-"`
	GoID    string `gorm:"index" json:"-"`
	GoToken string `json:"-"`

	// Events is the user's private feed, PublicEvents what their
	// subscribers see. Both are JSON-encoded event lists.
	Events       events.List `gorm:"type:text" json:"-"`
	PublicEvents events.List `gorm:"type:text" json:"-"`

	Emails []EmailAddress `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeSave keeps usernames case-insensitively unique by storing them
// lowercased; the unique index does the rest.
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Username = strings.ToLower(u.Username)
	return nil
}

func (u *User) PrimaryID() uint              { return u.ID }
func (u *User) ACLName() string              { return "user" }
func (u *User) ThingRef() (string, uint)     { return ThingUser, u.ID }
func (u *User) AbsURL() string               { return "/u/" + u.Username }
func (u *User) PrimaryEmail() *EmailAddress {
	for i := range u.Emails {
		if u.Emails[i].Primary {
			return &u.Emails[i]
		}
	}
	if len(u.Emails) > 0 {
		return &u.Emails[0]
	}
	return nil
}

func (u *User) Roles(caller *User) []string {
	if caller != nil && caller.ID == u.ID {
		return []string{"owner"}
	}
	if caller == nil {
		return []string{"anonymous"}
	}
	return []string{"user"}
}

// LinkedAccounts maps provider shorthand to whether this user linked it.
func (u *User) LinkedAccounts() map[string]bool {
	return map[string]bool{
		"gh": u.GhID != "",
		"tw": u.TwID != "",
		"go": u.GoID != "",
	}
}

type EmailAddress struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	Address    string    `gorm:"uniqueIndex;not null" json:"address"`
	Primary    bool      `gorm:"column:is_primary;default:false" json:"primary"`
	Verified   bool      `gorm:"default:false" json:"verified"`
	VerifyCode string    `gorm:"size:20" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

func (e *EmailAddress) PrimaryID() uint { return e.ID }
func (e *EmailAddress) ACLName() string { return "email" }

func (e *EmailAddress) Roles(caller *User) []string {
	if caller != nil && caller.ID == e.UserID {
		return []string{"owner"}
	}
	if caller == nil {
		return []string{"anonymous"}
	}
	return []string{"user"}
}
