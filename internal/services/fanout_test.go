package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdlink/internal/apperror"
	"crowdlink/internal/events"
	"crowdlink/internal/models"
	"crowdlink/internal/services"
)

func TestDeliverStampsOriginPerFeed(t *testing.T) {
	gdb := newTestDB(t)
	velma := mkUser(t, gdb, "velma")
	project := mkProject(t, gdb, velma, "Crowdlink", "crowdlink")

	ev := events.NewComment(velma.ID, "velma", "/u/velma", "hi", "<p>hi</p>")
	require.NoError(t, services.Deliver(gdb, ev,
		services.ToFeed(project, services.FeedEvents),
		services.ToFeed(velma, services.FeedPublic)))

	var freshProject models.Project
	require.NoError(t, gdb.First(&freshProject, project.ID).Error)
	require.Len(t, freshProject.Events, 1)
	assert.Equal(t, project.ID, freshProject.Events[0].Base().Origin)

	fresh := reload(t, gdb, velma)
	require.Len(t, fresh.PublicEvents, 1)
	assert.Equal(t, velma.ID, fresh.PublicEvents[0].Base().Origin)

	// the template event itself is untouched
	assert.Equal(t, uint(0), ev.Base().Origin)
}

func TestDeliverDedupsOverlappingTargets(t *testing.T) {
	gdb := newTestDB(t)
	velma := mkUser(t, gdb, "velma")
	shaggy := mkUser(t, gdb, "shaggy")
	project := mkProject(t, gdb, velma, "Crowdlink", "crowdlink")

	sub := models.Subscription{
		SubscriberID: shaggy.ID,
		ThingType:    models.ThingProject,
		ThingID:      project.ID,
	}
	require.NoError(t, gdb.Create(&sub).Error)

	// the same subscriber arrives through two overlapping subscriber sets
	ev := events.NewCommentNotif(velma.ID, "velma", "/u/velma", "t", "/p")
	require.NoError(t, services.Deliver(gdb, ev,
		services.ToSubscribers([]models.Subscription{sub}),
		services.ToSubscribers([]models.Subscription{sub})))

	fresh := reload(t, gdb, shaggy)
	assert.Len(t, fresh.Events, 1)
}

func TestNotifyNewIssueReachesAllFeeds(t *testing.T) {
	gdb := newTestDB(t)
	velma := mkUser(t, gdb, "velma")
	fred := mkUser(t, gdb, "fred")
	project := mkProject(t, gdb, velma, "Crowdlink", "crowdlink")

	require.NoError(t, gdb.Create(&models.Subscription{
		SubscriberID: fred.ID,
		ThingType:    models.ThingProject,
		ThingID:      project.ID,
	}).Error)

	issue := mkIssue(t, gdb, project, velma, "Add search", "add-search", 0)
	require.NoError(t, services.NotifyNewIssue(gdb, issue))

	var freshProject models.Project
	require.NoError(t, gdb.First(&freshProject, project.ID).Error)
	require.Len(t, freshProject.Events, 1)
	notif, ok := freshProject.Events[0].(*events.IssueNotif)
	require.True(t, ok)
	assert.Equal(t, "Add search", notif.IName)
	assert.Equal(t, "/p/velma/crowdlink/i/add-search", notif.IssueURL)

	creator := reload(t, gdb, velma)
	assert.Len(t, creator.PublicEvents, 1)

	// the project subscriber was notified, stamped with the project id
	subscriber := reload(t, gdb, fred)
	require.Len(t, subscriber.Events, 1)
	assert.Equal(t, project.ID, subscriber.Events[0].Base().Origin)
}

func TestPostCommentRendersMarkdown(t *testing.T) {
	gdb := newTestDB(t)
	velma := mkUser(t, gdb, "velma")
	project := mkProject(t, gdb, velma, "Crowdlink", "crowdlink")
	issue := mkIssue(t, gdb, project, velma, "I", "i", 0)

	require.NoError(t, services.PostComment(gdb, velma, issue, "I", "some **bold** text"))

	var fresh models.Issue
	require.NoError(t, gdb.First(&fresh, issue.ID).Error)
	require.Len(t, fresh.Events, 1)
	comment, ok := fresh.Events[0].(*events.Comment)
	require.True(t, ok)
	assert.Equal(t, "some **bold** text", comment.Body)
	assert.Contains(t, comment.MDBody, "<strong>bold</strong>")
}

func TestSetVoteUpdatesCount(t *testing.T) {
	gdb := newTestDB(t)
	velma := mkUser(t, gdb, "velma")
	shaggy := mkUser(t, gdb, "shaggy")
	project := mkProject(t, gdb, velma, "P", "p")
	issue := mkIssue(t, gdb, project, velma, "I", "i", 0)

	require.NoError(t, services.SetVote(gdb, shaggy, issue, true))
	var fresh models.Issue
	require.NoError(t, gdb.First(&fresh, issue.ID).Error)
	assert.Equal(t, 1, fresh.VoteCount)

	voted, err := services.VoteStatus(gdb, shaggy, issue)
	require.NoError(t, err)
	assert.True(t, voted)

	// voting twice is a conflict
	err = services.SetVote(gdb, shaggy, issue, true)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	// withdrawing restores the count; withdrawing again is a no-op
	require.NoError(t, services.SetVote(gdb, shaggy, issue, false))
	require.NoError(t, gdb.First(&fresh, issue.ID).Error)
	assert.Equal(t, 0, fresh.VoteCount)
	require.NoError(t, services.SetVote(gdb, shaggy, issue, false))

	// users cannot be voted on
	err = services.SetVote(gdb, shaggy, velma, true)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	err = services.SetVote(gdb, nil, issue, true)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestSubscribeBackfillsRecentEvents(t *testing.T) {
	gdb := newTestDB(t)
	velma := mkUser(t, gdb, "velma")
	daphne := mkUser(t, gdb, "daphne")
	project := mkProject(t, gdb, velma, "P", "p")

	// 12 events on the project feed, one of them daphne's own
	feed := events.List{}
	for i := 0; i < 12; i++ {
		actor := velma.ID
		if i == 11 {
			actor = daphne.ID
		}
		ev := events.NewComment(actor, "velma", "/u/velma", "x", "<p>x</p>")
		ev.Time = int64(1000 + i)
		ev.Origin = project.ID
		feed = append(feed, ev)
	}
	require.NoError(t, gdb.Model(&models.Project{}).Where("id = ?", project.ID).
		UpdateColumn("events", feed).Error)

	var freshProject models.Project
	require.NoError(t, gdb.First(&freshProject, project.ID).Error)
	require.NoError(t, services.SetSubscribed(gdb, daphne, &freshProject, true))

	fresh := reload(t, gdb, daphne)
	// ten most recent eligible events, skipping daphne's own
	require.Len(t, fresh.Events, 10)
	assert.Equal(t, int64(1001), fresh.Events[0].Base().Time)
	assert.Equal(t, int64(1010), fresh.Events[9].Base().Time)

	subscribed, err := services.Subscribed(gdb, daphne, &freshProject)
	require.NoError(t, err)
	assert.True(t, subscribed)

	err = services.SetSubscribed(gdb, daphne, &freshProject, true)
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestUnsubscribePurgesByOrigin(t *testing.T) {
	gdb := newTestDB(t)
	velma := mkUser(t, gdb, "velma")
	daphne := mkUser(t, gdb, "daphne")
	project := mkProject(t, gdb, velma, "P", "p")
	other := mkProject(t, gdb, velma, "Q", "q")

	projectEv := events.NewComment(velma.ID, "velma", "", "a", "")
	projectEv.Origin = project.ID
	otherEv := events.NewComment(velma.ID, "velma", "", "b", "")
	otherEv.Origin = other.ID
	require.NoError(t, gdb.Model(&models.User{}).Where("id = ?", daphne.ID).
		UpdateColumn("events", events.List{projectEv, otherEv}).Error)
	require.NoError(t, gdb.Create(&models.Subscription{
		SubscriberID: daphne.ID,
		ThingType:    models.ThingProject,
		ThingID:      project.ID,
	}).Error)

	require.NoError(t, services.SetSubscribed(gdb, daphne, project, false))

	fresh := reload(t, gdb, daphne)
	require.Len(t, fresh.Events, 1)
	assert.Equal(t, other.ID, fresh.Events[0].Base().Origin)

	// unsubscribing when not subscribed is a no-op
	require.NoError(t, services.SetSubscribed(gdb, daphne, project, false))
}

func TestSetReportLifecycle(t *testing.T) {
	gdb := newTestDB(t)
	velma := mkUser(t, gdb, "velma")
	shaggy := mkUser(t, gdb, "shaggy")
	project := mkProject(t, gdb, velma, "P", "p")

	require.NoError(t, services.SetReport(gdb, shaggy, project, "spam"))
	reason, err := services.ReportStatus(gdb, shaggy, project)
	require.NoError(t, err)
	assert.Equal(t, "spam", reason)

	// a second report updates the reason in place
	require.NoError(t, services.SetReport(gdb, shaggy, project, "abuse"))
	reason, err = services.ReportStatus(gdb, shaggy, project)
	require.NoError(t, err)
	assert.Equal(t, "abuse", reason)

	var count int64
	require.NoError(t, gdb.Model(&models.Report{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// an empty reason withdraws the report
	require.NoError(t, services.SetReport(gdb, shaggy, project, ""))
	reason, err = services.ReportStatus(gdb, shaggy, project)
	require.NoError(t, err)
	assert.Empty(t, reason)
}
