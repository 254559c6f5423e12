package services

import (
	"errors"

	"gorm.io/gorm"

	"crowdlink/internal/apperror"
	"crowdlink/internal/events"
	"crowdlink/internal/models"
)

const backfillLimit = 10

// SetVote records or withdraws a vote on a thing, keeping the cached vote
// count in step. Voting twice is a conflict; withdrawing a vote that was
// never cast is a no-op.
func SetVote(db *gorm.DB, voter *models.User, thing models.Thingy, up bool) error {
	if voter == nil {
		return apperror.Forbidden()
	}
	thingType, thingID := thing.ThingRef()
	if thingType == models.ThingUser {
		return apperror.Validation("users cannot be voted on")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var existing models.Vote
		err := tx.Where("voter_id = ? AND thing_type = ? AND thing_id = ?",
			voter.ID, thingType, thingID).First(&existing).Error
		if up {
			if err == nil {
				return apperror.Conflict("you have already voted on this")
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			vote := models.Vote{VoterID: voter.ID, ThingType: thingType, ThingID: thingID}
			if err := tx.Create(&vote).Error; err != nil {
				return err
			}
			return bumpVoteCount(tx, thing, 1)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&existing).Error; err != nil {
			return err
		}
		return bumpVoteCount(tx, thing, -1)
	})
}

func bumpVoteCount(tx *gorm.DB, thing models.Thingy, delta int) error {
	return tx.Model(thing).
		UpdateColumn("vote_count", gorm.Expr("vote_count + ?", delta)).Error
}

// VoteStatus reports whether the user has voted on the thing.
func VoteStatus(db *gorm.DB, user *models.User, thing models.Thingy) (bool, error) {
	if user == nil {
		return false, nil
	}
	thingType, thingID := thing.ThingRef()
	var count int64
	err := db.Model(&models.Vote{}).
		Where("voter_id = ? AND thing_type = ? AND thing_id = ?", user.ID, thingType, thingID).
		Count(&count).Error
	return count > 0, err
}

// SetSubscribed subscribes or unsubscribes a user from a thing's events.
// Subscribing back-fills the most recent eligible notifications from the
// source's public feed, re-sorted by time; unsubscribing purges every
// feed entry that was delivered through the source.
func SetSubscribed(db *gorm.DB, user *models.User, thing models.Thingy, val bool) error {
	if user == nil {
		return apperror.Forbidden()
	}
	thingType, thingID := thing.ThingRef()
	return db.Transaction(func(tx *gorm.DB) error {
		var existing models.Subscription
		err := tx.Where("subscriber_id = ? AND thing_type = ? AND thing_id = ?",
			user.ID, thingType, thingID).First(&existing).Error

		if val {
			if err == nil {
				return apperror.Conflict("you are already subscribed to this")
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			sub := models.Subscription{SubscriberID: user.ID, ThingType: thingType, ThingID: thingID}
			if err := tx.Create(&sub).Error; err != nil {
				return err
			}

			var fresh models.User
			if err := tx.First(&fresh, user.ID).Error; err != nil {
				return err
			}
			src := publicFeed(thing)
			count := 0
			for i := len(src) - 1; i >= 0 && count < backfillLimit; i-- {
				ev := src[i]
				if ev.Base().SendableTo(user.ID) {
					fresh.Events = append(fresh.Events, ev)
					count++
				}
			}
			events.SortByTime(fresh.Events)
			return tx.Model(&fresh).UpdateColumn("events", fresh.Events).Error
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&existing).Error; err != nil {
			return err
		}

		var fresh models.User
		if err := tx.First(&fresh, user.ID).Error; err != nil {
			return err
		}
		kept := make(events.List, 0, len(fresh.Events))
		for _, ev := range fresh.Events {
			if !ev.Base().Originates(thingID) {
				kept = append(kept, ev)
			}
		}
		return tx.Model(&fresh).UpdateColumn("events", kept).Error
	})
}

// Subscribed reports whether the user is subscribed to the thing.
func Subscribed(db *gorm.DB, user *models.User, thing models.Thingy) (bool, error) {
	if user == nil {
		return false, nil
	}
	thingType, thingID := thing.ThingRef()
	var count int64
	err := db.Model(&models.Subscription{}).
		Where("subscriber_id = ? AND thing_type = ? AND thing_id = ?", user.ID, thingType, thingID).
		Count(&count).Error
	return count > 0, err
}

// SetReport flags a thing for moderation, updating the reason in place
// for an existing report. An empty reason withdraws the report.
func SetReport(db *gorm.DB, user *models.User, thing models.Thingy, reason string) error {
	if user == nil {
		return apperror.Forbidden()
	}
	thingType, thingID := thing.ThingRef()
	return db.Transaction(func(tx *gorm.DB) error {
		var existing models.Report
		err := tx.Where("reporter_id = ? AND thing_type = ? AND thing_id = ?",
			user.ID, thingType, thingID).First(&existing).Error

		if reason == "" {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return tx.Delete(&existing).Error
		}
		if err == nil {
			return tx.Model(&existing).UpdateColumn("reason", reason).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		report := models.Report{
			ReporterID: user.ID,
			ThingType:  thingType,
			ThingID:    thingID,
			Reason:     reason,
		}
		return tx.Create(&report).Error
	})
}

// ReportStatus returns the user's standing report reason, empty when the
// thing is unreported.
func ReportStatus(db *gorm.DB, user *models.User, thing models.Thingy) (string, error) {
	if user == nil {
		return "", nil
	}
	thingType, thingID := thing.ThingRef()
	var report models.Report
	err := db.Where("reporter_id = ? AND thing_type = ? AND thing_id = ?",
		user.ID, thingType, thingID).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return report.Reason, nil
}
