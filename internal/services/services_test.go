package services_test

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crowdlink/internal/db"
	"crowdlink/internal/models"
	"crowdlink/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

// offlineFunding builds a funding service whose processor synthesizes
// successful results, so no network is involved.
func offlineFunding() *services.FundingService {
	return &services.FundingService{
		Pay:     &services.PaymentService{Client: &http.Client{}},
		FeeRate: 0.05,
	}
}

func mkUser(t *testing.T, gdb *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Password: "not-a-real-hash", IsActivated: true}
	require.NoError(t, gdb.Create(user).Error)
	return user
}

func mkProject(t *testing.T, gdb *gorm.DB, maintainer *models.User, name, key string) *models.Project {
	t.Helper()
	project := &models.Project{
		MaintainerID: maintainer.ID,
		Maintainer:   *maintainer,
		URLKey:       key,
		Name:         name,
	}
	require.NoError(t, gdb.Omit("Maintainer").Create(project).Error)
	return project
}

func mkIssue(t *testing.T, gdb *gorm.DB, project *models.Project, creator *models.User, title, key string, status int) *models.Issue {
	t.Helper()
	issue := &models.Issue{
		ProjectID: project.ID,
		Project:   *project,
		CreatorID: creator.ID,
		Creator:   *creator,
		URLKey:    key,
		Title:     title,
		Status:    status,
	}
	require.NoError(t, gdb.Omit("Project", "Creator").Create(issue).Error)
	return issue
}

func reload(t *testing.T, gdb *gorm.DB, user *models.User) *models.User {
	t.Helper()
	var fresh models.User
	require.NoError(t, gdb.First(&fresh, user.ID).Error)
	return &fresh
}
