package models

import (
	"time"

	"crowdlink/internal/events"
)

type Project struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	MaintainerID uint   `gorm:"not null;index;uniqueIndex:idx_maintainer_key" json:"maintainer_id"`
	Maintainer   User   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	URLKey       string `gorm:"size:64;not null;uniqueIndex:idx_maintainer_key" json:"url_key"`
	Name         string `gorm:"not null" json:"name"`
	Website      string `json:"website"`
	Desc         string `gorm:"type:text" json:"desc"`
	VoteCount    int    `gorm:"default:0" json:"vote_count"`

	// GitHub repository sync metadata, optional.
	GhRepoPath string `json:"gh_repo_path"`
	GhSynced   bool   `gorm:"default:false" json:"gh_synced"`

	Events events.List `gorm:"type:text" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Project) PrimaryID() uint          { return p.ID }
func (p *Project) ACLName() string          { return "project" }
func (p *Project) ThingRef() (string, uint) { return ThingProject, p.ID }

func (p *Project) AbsURL() string {
	return "/p/" + p.Maintainer.Username + "/" + p.URLKey
}

func (p *Project) Roles(caller *User) []string {
	if caller == nil {
		return []string{"anonymous"}
	}
	if caller.ID == p.MaintainerID {
		return []string{"maintainer"}
	}
	return []string{"user"}
}
