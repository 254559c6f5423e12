package services

import (
	"fmt"

	"gorm.io/gorm"

	"crowdlink/internal/events"
	"crowdlink/internal/models"
	"crowdlink/internal/utils"
)

// Feed attribute names. Every feed-bearing model has an "events" feed;
// users additionally have the public feed their subscribers draw from.
const (
	FeedEvents = "events"
	FeedPublic = "public_events"
)

// Target is one destination of a fan-out call: either a set of
// subscriptions to deliver through, or one explicit (object, feed) pair.
type Target struct {
	subs []models.Subscription
	obj  models.Thingy
	feed string
}

// ToSubscribers fans out to the private feed of every subscriber in the
// set.
func ToSubscribers(subs []models.Subscription) Target {
	return Target{subs: subs}
}

// ToFeed appends to one named feed of one object.
func ToFeed(obj models.Thingy, feed string) Target {
	return Target{obj: obj, feed: feed}
}

type seenKey struct {
	feed      string
	thingType string
	thingID   uint
}

// Deliver appends an event to every target feed exactly once per
// (feed, target) pair, no matter how many delivery paths reach the same
// feed. Each appended copy is stamped with the id of the thing it was
// delivered through, so unsubscribing from that thing can purge exactly
// these entries later. All feed writes commit in one transaction.
func Deliver(db *gorm.DB, ev events.Eventer, targets ...Target) error {
	return db.Transaction(func(tx *gorm.DB) error {
		seen := map[seenKey]bool{}
		for _, t := range targets {
			if t.subs != nil {
				for _, sub := range t.subs {
					key := seenKey{FeedEvents, models.ThingUser, sub.SubscriberID}
					if seen[key] {
						continue
					}
					seen[key] = true
					var subscriber models.User
					if err := tx.First(&subscriber, sub.SubscriberID).Error; err != nil {
						return err
					}
					cp := events.Clone(ev)
					cp.Base().Origin = sub.ThingID
					subscriber.Events = append(subscriber.Events, cp)
					if err := tx.Model(&subscriber).
						UpdateColumn("events", subscriber.Events).Error; err != nil {
						return err
					}
				}
				continue
			}

			feed := t.feed
			if feed == "" {
				feed = FeedEvents
			}
			thingType, thingID := t.obj.ThingRef()
			key := seenKey{feed, thingType, thingID}
			if seen[key] {
				continue
			}
			seen[key] = true
			lst := feedOf(t.obj, feed)
			if lst == nil {
				return fmt.Errorf("fanout: %T has no feed %q", t.obj, feed)
			}
			cp := events.Clone(ev)
			cp.Base().Origin = thingID
			*lst = append(*lst, cp)
			if err := tx.Model(t.obj).UpdateColumn(feed, *lst).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// feedOf returns a pointer to the named feed of a feed-bearing model, nil
// when the model has no such feed.
func feedOf(obj models.Thingy, feed string) *events.List {
	switch o := obj.(type) {
	case *models.User:
		if feed == FeedPublic {
			return &o.PublicEvents
		}
		return &o.Events
	case *models.Project:
		if feed == FeedEvents {
			return &o.Events
		}
	case *models.Issue:
		if feed == FeedEvents {
			return &o.Events
		}
	case *models.Solution:
		if feed == FeedEvents {
			return &o.Events
		}
	}
	return nil
}

// publicFeed is the feed a new subscriber back-fills from: the public
// feed for users, the plain event feed for everything else.
func publicFeed(obj models.Thingy) events.List {
	if u, ok := obj.(*models.User); ok {
		return u.PublicEvents
	}
	if lst := feedOf(obj, FeedEvents); lst != nil {
		return *lst
	}
	return nil
}

// SubscribersOf loads every subscription pointed at a thing.
func SubscribersOf(db *gorm.DB, obj models.Thingy) ([]models.Subscription, error) {
	thingType, thingID := obj.ThingRef()
	var subs []models.Subscription
	err := db.Where("thing_type = ? AND thing_id = ?", thingType, thingID).Find(&subs).Error
	return subs, err
}

// NotifyNewIssue announces a freshly filed issue to the project's feed,
// the creator's public feed, and both of their subscriber sets. The issue
// must have Creator and Project.Maintainer loaded.
func NotifyNewIssue(db *gorm.DB, issue *models.Issue) error {
	creator := &issue.Creator
	project := &issue.Project
	ev := events.NewIssueNotif(
		creator.ID, creator.Username, creator.AbsURL(),
		project.Name, project.AbsURL(),
		issue.Title, issue.AbsURL())

	projSubs, err := SubscribersOf(db, project)
	if err != nil {
		return err
	}
	userSubs, err := SubscribersOf(db, creator)
	if err != nil {
		return err
	}
	return Deliver(db, ev,
		ToFeed(creator, FeedPublic),
		ToFeed(project, FeedEvents),
		ToSubscribers(projSubs),
		ToSubscribers(userSubs))
}

// PostComment stores a rendered comment in the thing's event feed and
// notifies the thing's subscribers plus the commenter's own followers.
func PostComment(db *gorm.DB, actor *models.User, thing models.Thingy, title, body string) error {
	md := utils.RenderMarkdown(body)
	comment := events.NewComment(actor.ID, actor.Username, actor.AbsURL(), body, md)
	if err := Deliver(db, comment, ToFeed(thing, FeedEvents)); err != nil {
		return err
	}

	subs, err := SubscribersOf(db, thing)
	if err != nil {
		return err
	}
	notif := events.NewCommentNotif(
		actor.ID, actor.Username, actor.AbsURL(), title, absURLOf(thing))
	return Deliver(db, notif,
		ToSubscribers(subs),
		ToFeed(actor, FeedPublic))
}

func absURLOf(obj models.Thingy) string {
	switch o := obj.(type) {
	case *models.User:
		return o.AbsURL()
	case *models.Project:
		return o.AbsURL()
	case *models.Issue:
		return o.AbsURL()
	case *models.Solution:
		return o.AbsURL()
	}
	return ""
}
