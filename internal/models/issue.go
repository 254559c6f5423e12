package models

import (
	"time"

	"crowdlink/internal/events"
)

// IssueStatuses is the lifecycle of an issue. Stored as the index into
// this list.
var IssueStatuses = Enum{"Discussion", "Selected", "Completed", "Other"}

type Issue struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	ProjectID uint    `gorm:"not null;index;uniqueIndex:idx_project_issue_key" json:"project_id"`
	Project   Project `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CreatorID uint    `gorm:"not null;index" json:"creator_id"`
	Creator   User    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	URLKey    string  `gorm:"size:64;not null;uniqueIndex:idx_project_issue_key" json:"url_key"`
	Title     string  `gorm:"not null" json:"title"`
	Desc      string  `gorm:"type:text" json:"desc"`
	Status    int     `gorm:"default:0;not null" json:"status_raw"`
	VoteCount int     `gorm:"default:0" json:"vote_count"`

	Events events.List `gorm:"type:text" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i *Issue) PrimaryID() uint          { return i.ID }
func (i *Issue) ACLName() string          { return "issue" }
func (i *Issue) ThingRef() (string, uint) { return ThingIssue, i.ID }
func (i *Issue) StatusName() string       { return IssueStatuses.Name(i.Status) }

func (i *Issue) AbsURL() string {
	return i.Project.AbsURL() + "/i/" + i.URLKey
}

// Roles requires Project to be preloaded; the dispatcher does this on every
// issue lookup.
func (i *Issue) Roles(caller *User) []string {
	if caller == nil {
		return []string{"anonymous"}
	}
	var roles []string
	if caller.ID == i.Project.MaintainerID {
		roles = append(roles, "maintainer")
	}
	if caller.ID == i.CreatorID {
		roles = append(roles, "creator")
	}
	if len(roles) == 0 {
		roles = append(roles, "user")
	}
	return roles
}
