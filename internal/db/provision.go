package db

import (
	"github.com/sirupsen/logrus"

	"crowdlink/internal/models"
	"crowdlink/internal/services"
	"crowdlink/internal/utils"
)

// Provision seeds an empty database with demo accounts and a sample
// project so a fresh checkout has something to click on.
func Provision() {
	var count int64
	DB.Model(&models.User{}).Count(&count)
	if count > 0 {
		logrus.Info("Database already provisioned, skipping")
		return
	}

	usernames := []string{"velma", "scrappy", "shaggy", "scooby", "daphne", "fred"}
	users := make(map[string]*models.User, len(usernames))
	for _, username := range usernames {
		user, err := services.CreateUser(DB, username, "testing", username+"@crowdlink.io")
		if err != nil {
			logrus.WithError(err).Errorf("Failed to provision user %s", username)
			continue
		}
		DB.Model(user).UpdateColumn("is_activated", true)
		users[username] = user
	}

	maintainer := users["velma"]
	if maintainer == nil {
		return
	}
	project := models.Project{
		MaintainerID: maintainer.ID,
		Maintainer:   *maintainer,
		URLKey:       "crowdlink",
		Name:         "Crowdlink",
		Website:      "https://crowdlink.io",
		Desc:         "A platform for crowdfunding the features you want.",
	}
	if err := DB.Create(&project).Error; err != nil {
		logrus.WithError(err).Error("Failed to provision sample project")
		return
	}

	titles := []string{
		"Add markdown preview to the issue editor",
		"Allow maintainers to pin issues",
		"Support earmark receipts by email",
	}
	for i, title := range titles {
		creator := users[usernames[i%len(usernames)]]
		if creator == nil {
			continue
		}
		issue := models.Issue{
			ProjectID: project.ID,
			Project:   project,
			CreatorID: creator.ID,
			Creator:   *creator,
			URLKey:    utils.URLKey(title),
			Title:     title,
			Desc:      "Provisioned demo issue.",
		}
		if err := DB.Create(&issue).Error; err != nil {
			logrus.WithError(err).Errorf("Failed to provision issue %q", title)
			continue
		}
		if err := services.NotifyNewIssue(DB, &issue); err != nil {
			logrus.WithError(err).Error("Failed to announce provisioned issue")
		}
	}
	logrus.Info("Database provisioned with demo data")
}
