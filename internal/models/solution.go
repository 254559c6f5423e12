package models

import (
	"time"

	"crowdlink/internal/events"
)

// Solution is a proposed fix or response to an issue.
type Solution struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	IssueID   uint   `gorm:"not null;index;uniqueIndex:idx_issue_solution_key" json:"issue_id"`
	Issue     Issue  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CreatorID uint   `gorm:"not null;index" json:"creator_id"`
	Creator   User   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	URLKey    string `gorm:"size:64;not null;uniqueIndex:idx_issue_solution_key" json:"url_key"`
	Title     string `gorm:"not null" json:"title"`
	Desc      string `gorm:"type:text" json:"desc"`
	VoteCount int    `gorm:"default:0" json:"vote_count"`

	Events events.List `gorm:"type:text" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Solution) PrimaryID() uint          { return s.ID }
func (s *Solution) ACLName() string          { return "solution" }
func (s *Solution) ThingRef() (string, uint) { return ThingSolution, s.ID }

func (s *Solution) AbsURL() string {
	return s.Issue.AbsURL() + "/s/" + s.URLKey
}

// Roles requires Issue.Project to be preloaded.
func (s *Solution) Roles(caller *User) []string {
	if caller == nil {
		return []string{"anonymous"}
	}
	var roles []string
	if caller.ID == s.Issue.Project.MaintainerID {
		roles = append(roles, "maintainer")
	}
	if caller.ID == s.CreatorID {
		roles = append(roles, "creator")
	}
	if len(roles) == 0 {
		roles = append(roles, "user")
	}
	return roles
}
