package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crowdlink/internal/apperror"
	"crowdlink/internal/models"
)

// minEarmarkAmount is the smallest pledge worth the processor fees, in
// cents.
const minEarmarkAmount = 50

const defaultFeeRate = 0.05

// FundingService moves money: charges cards, creates and settles
// earmarks, and pays recipients out. Every state change lands in the
// per-entity audit log tables.
type FundingService struct {
	Pay     *PaymentService
	FeeRate float64
}

var fundingService *FundingService

// GetFundingService returns the singleton funding service.
func GetFundingService() *FundingService {
	if fundingService == nil {
		rate := defaultFeeRate
		if raw := os.Getenv("TRANSFER_FEE"); raw != "" {
			if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed >= 0 && parsed < 1 {
				rate = parsed
			}
		}
		fundingService = &FundingService{Pay: GetPaymentService(), FeeRate: rate}
	}
	return fundingService
}

// forUpdate takes a row lock where the database supports one. sqlite has
// no row locks.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func lockUser(tx *gorm.DB, id uint) (*models.User, error) {
	var user models.User
	if err := forUpdate(tx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// creditUser pushes cleared funds into both balances of a user.
func creditUser(tx *gorm.DB, userID uint, amount int64) error {
	return tx.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"available_balance": gorm.Expr("available_balance + ?", amount),
			"current_balance":   gorm.Expr("current_balance + ?", amount),
		}).Error
}

// CreateCharge charges a tokenized card and records the result. A paid
// charge clears immediately, crediting the user's balances.
func (s *FundingService) CreateCharge(db *gorm.DB, user *models.User, cardToken string, livemode bool, amount int64) (*models.Charge, error) {
	if user == nil {
		return nil, apperror.Forbidden()
	}
	if amount <= 0 {
		return nil, apperror.Validation("charge amount must be positive")
	}

	res, err := s.Pay.Charge(cardToken, amount, map[string]interface{}{
		"username": user.Username,
		"userid":   user.ID,
	})
	if err != nil {
		return nil, err
	}

	charge := &models.Charge{
		UserID:             user.ID,
		Amount:             amount,
		Remaining:          amount,
		Livemode:           livemode,
		ProcessorID:        res.ID,
		ProcessorCreatedAt: time.Unix(res.Created, 0),
		LastFour:           res.Card.LastFour,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if res.Paid {
			charge.Status = models.ChargeCleared
			charge.Cleared = true
		}
		if err := tx.Create(charge).Error; err != nil {
			return err
		}
		if res.Paid {
			if err := creditUser(tx, user.ID, amount); err != nil {
				return err
			}
		}
		return auditLog(tx, user.ID, "create", map[string]interface{}{
			"amount": amount,
			"paid":   res.Paid,
		}, charge)
	})
	if err != nil {
		return nil, err
	}
	return charge, nil
}

// CreateEarmark pledges funds from a user's available balance toward an
// issue, project or solution. The fee comes out of the pledged amount;
// the full amount leaves the available balance at creation.
func (s *FundingService) CreateEarmark(db *gorm.DB, user *models.User, thing models.Thingy, amount int64) (*models.Earmark, error) {
	if user == nil {
		return nil, apperror.Forbidden()
	}
	thingType, thingID := thing.ThingRef()
	switch thingType {
	case models.ThingIssue, models.ThingProject, models.ThingSolution:
	default:
		return nil, apperror.Validation(
			fmt.Sprintf("earmarks cannot target a %s", thingType))
	}
	if amount < minEarmarkAmount {
		return nil, apperror.Validation("amount is too low to create an earmark")
	}

	fee := int64(math.Round(float64(amount) * s.FeeRate))
	earmark := &models.Earmark{
		UserID:    user.ID,
		ThingType: thingType,
		ThingID:   thingID,
		Amount:    amount - fee,
		Fee:       fee,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		sender, err := lockUser(tx, user.ID)
		if err != nil {
			return err
		}
		if sender.AvailableBalance < amount {
			return apperror.Validation("insufficient available balance for this earmark")
		}
		if err := tx.Model(sender).
			UpdateColumn("available_balance", gorm.Expr("available_balance - ?", amount)).
			Error; err != nil {
			return err
		}
		if err := tx.Create(earmark).Error; err != nil {
			return err
		}
		return auditLog(tx, user.ID, "create", map[string]interface{}{
			"amount":     amount,
			"fee":        fee,
			"thing_type": thingType,
			"thing_id":   thingID,
		}, earmark)
	})
	if err != nil {
		return nil, err
	}
	return earmark, nil
}

// MatureEarmark marks an earmark as matured, making it eligible for
// assignment and clearing.
func (s *FundingService) MatureEarmark(db *gorm.DB, actor *models.User, earmark *models.Earmark) error {
	if earmark.Matured || earmark.Closed {
		return apperror.State("earmark cannot mature in its current state")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(earmark).Updates(map[string]interface{}{
			"matured": true,
			"status":  models.EarmarkReady,
		}).Error; err != nil {
			return err
		}
		earmark.Matured = true
		earmark.Status = models.EarmarkReady
		return auditLog(tx, actorID(actor), "mature", nil, earmark)
	})
}

// MarkShare is one recipient's slice of an earmark assignment, as a
// percentage of the earmark amount.
type MarkShare struct {
	UserID uint
	Perc   int
}

// AssignEarmark splits an earmark into marks, one per recipient. Each
// mark gets the floored percentage of the amount; leftover cents go
// round robin so the marks always sum to the earmark exactly.
func (s *FundingService) AssignEarmark(db *gorm.DB, actor *models.User, earmark *models.Earmark, shares []MarkShare) error {
	if earmark.Cleared {
		return apperror.State("earmark has already cleared")
	}
	if len(shares) == 0 {
		return apperror.Validation("at least one recipient share is required")
	}
	total := 0
	for _, share := range shares {
		if share.Perc <= 0 {
			return apperror.Validation("each share percentage must be positive")
		}
		total += share.Perc
	}
	if total != 100 {
		return apperror.Validation("share percentages must sum to 100")
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Mark{}).
			Where("earmark_id = ?", earmark.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return apperror.State("earmark has already been assigned")
		}
		if err := requireCompleted(tx, earmark); err != nil {
			return err
		}

		// assignment is repeatable regardless of the order shares arrive in
		sorted := make([]MarkShare, len(shares))
		copy(sorted, shares)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

		marks := make([]*models.Mark, len(sorted))
		var allocated int64
		for i, share := range sorted {
			amount := earmark.Amount * int64(share.Perc) / 100
			marks[i] = &models.Mark{
				EarmarkID: earmark.ID,
				UserID:    share.UserID,
				Amount:    amount,
				Remaining: amount,
				Perc:      share.Perc,
			}
			allocated += amount
		}
		for i := 0; allocated < earmark.Amount; i++ {
			mark := marks[i%len(marks)]
			mark.Amount++
			mark.Remaining++
			allocated++
		}

		for _, mark := range marks {
			if err := tx.Create(mark).Error; err != nil {
				return err
			}
			if err := auditLog(tx, actorID(actor), "create", map[string]interface{}{
				"earmark_id": earmark.ID,
				"amount":     mark.Amount,
				"perc":       mark.Perc,
			}, mark); err != nil {
				return err
			}
		}
		if err := tx.Model(earmark).
			UpdateColumn("status", models.EarmarkAssigned).Error; err != nil {
			return err
		}
		earmark.Status = models.EarmarkAssigned
		return auditLog(tx, actorID(actor), "assign", map[string]interface{}{
			"recipients": len(marks),
		}, earmark)
	})
}

// ClearEarmark settles an earmark: the sender's cleared fund sources are
// drained FIFO, their current balance drops by the earmark amount, and
// each mark's recipient is credited. Clearing requires a matured,
// undisputed, unfrozen earmark that has not already cleared.
func (s *FundingService) ClearEarmark(db *gorm.DB, actor *models.User, earmark *models.Earmark) error {
	if !earmark.Matured || earmark.Cleared || earmark.Disputed || earmark.Frozen {
		return apperror.State("earmark cannot clear in its current state")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := requireCompleted(tx, earmark); err != nil {
			return err
		}
		sender, err := lockUser(tx, earmark.UserID)
		if err != nil {
			return err
		}
		if sender.CurrentBalance < earmark.Amount {
			return apperror.State("insufficient cleared funds to settle this earmark")
		}

		// pull funds from marks first, charges second, oldest first
		deduct, err := drainMarks(tx, earmark.UserID, earmark.Amount)
		if err != nil {
			return err
		}
		deduct, err = drainCharges(tx, earmark.UserID, deduct)
		if err != nil {
			return err
		}
		if deduct > 0 {
			return apperror.State("insufficient cleared funds to settle this earmark")
		}

		if err := tx.Model(sender).
			UpdateColumn("current_balance", gorm.Expr("current_balance - ?", earmark.Amount)).
			Error; err != nil {
			return err
		}

		var marks []models.Mark
		if err := tx.Where("earmark_id = ?", earmark.ID).Find(&marks).Error; err != nil {
			return err
		}
		for i := range marks {
			mark := &marks[i]
			if err := tx.Model(mark).UpdateColumn("cleared", true).Error; err != nil {
				return err
			}
			if err := creditUser(tx, mark.UserID, mark.Amount); err != nil {
				return err
			}
			if err := auditLog(tx, actorID(actor), "clear", nil, mark); err != nil {
				return err
			}
		}

		if err := tx.Model(earmark).UpdateColumn("cleared", true).Error; err != nil {
			return err
		}
		earmark.Cleared = true
		return auditLog(tx, actorID(actor), "clear", map[string]interface{}{
			"amount": earmark.Amount,
		}, earmark)
	})
}

// CreateRecipient registers a payout bank account with the processor and
// mirrors it locally.
func (s *FundingService) CreateRecipient(db *gorm.DB, user *models.User, accountToken, name string, corporation bool, taxID string) (*models.Recipient, error) {
	if user == nil {
		return nil, apperror.Forbidden()
	}
	accountType := "individual"
	if corporation {
		accountType = "corporation"
	}
	res, err := s.Pay.CreateRecipient(accountToken, name, accountType, taxID, map[string]interface{}{
		"username": user.Username,
		"userid":   user.ID,
	})
	if err != nil {
		return nil, err
	}

	recipient := &models.Recipient{
		UserID:             user.ID,
		Name:               res.Name,
		Verified:           res.ActiveAccount.Verified,
		Livemode:           res.Livemode,
		ProcessorID:        res.ID,
		ProcessorCreatedAt: time.Unix(res.Created, 0),
		LastFour:           res.ActiveAccount.LastFour,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(recipient).Error; err != nil {
			return err
		}
		return auditLog(tx, user.ID, "create", map[string]interface{}{
			"name": name,
		}, recipient)
	})
	if err != nil {
		return nil, err
	}
	return recipient, nil
}

// CreateTransfer pays out cleared mark funds to one of the user's
// registered recipients, draining the marks FIFO.
func (s *FundingService) CreateTransfer(db *gorm.DB, user *models.User, recipient *models.Recipient, amount int64) (*models.Transfer, error) {
	if user == nil {
		return nil, apperror.Forbidden()
	}
	if recipient.UserID != user.ID {
		return nil, apperror.Forbidden()
	}
	if amount <= 0 {
		return nil, apperror.Validation("transfer amount must be positive")
	}

	transfer := &models.Transfer{
		UserID:      user.ID,
		RecipientID: recipient.ID,
		Amount:      amount,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		sender, err := lockUser(tx, user.ID)
		if err != nil {
			return err
		}
		var total int64
		if err := tx.Model(&models.Mark{}).
			Where("cleared = ? AND user_id = ?", true, user.ID).
			Select("COALESCE(SUM(remaining), 0)").Scan(&total).Error; err != nil {
			return err
		}
		if total < amount {
			return apperror.State("insufficient cleared funds for this transfer")
		}

		res, err := s.Pay.Transfer(recipient.ProcessorID, amount, map[string]interface{}{
			"username": user.Username,
			"userid":   user.ID,
		})
		if err != nil {
			return err
		}
		transfer.ProcessorID = res.ID

		deduct, err := drainMarks(tx, user.ID, amount)
		if err != nil {
			return err
		}
		if deduct > 0 {
			return apperror.State("insufficient cleared funds for this transfer")
		}
		if err := tx.Model(sender).Updates(map[string]interface{}{
			"available_balance": gorm.Expr("available_balance - ?", amount),
			"current_balance":   gorm.Expr("current_balance - ?", amount),
		}).Error; err != nil {
			return err
		}
		if err := tx.Create(transfer).Error; err != nil {
			return err
		}
		return auditLog(tx, user.ID, "create", map[string]interface{}{
			"amount":       amount,
			"recipient_id": recipient.ID,
		}, transfer)
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// ClearTransfer records processor confirmation of a payout.
func (s *FundingService) ClearTransfer(db *gorm.DB, actor *models.User, transfer *models.Transfer) error {
	if transfer.Cleared {
		return apperror.State("transfer has already cleared")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(transfer).Updates(map[string]interface{}{
			"cleared": true,
			"status":  models.TransferStatuses.Index("Cleared"),
		}).Error; err != nil {
			return err
		}
		transfer.Cleared = true
		return auditLog(tx, actorID(actor), "clear", nil, transfer)
	})
}

// requireCompleted blocks assignment and clearing of earmarks whose
// target issue has not reached the Completed status.
func requireCompleted(tx *gorm.DB, earmark *models.Earmark) error {
	if earmark.ThingType != models.ThingIssue {
		return nil
	}
	var issue models.Issue
	if err := tx.First(&issue, earmark.ThingID).Error; err != nil {
		return err
	}
	if issue.StatusName() != "Completed" {
		return apperror.State("the earmarked issue is not completed")
	}
	return nil
}

func drainMarks(tx *gorm.DB, userID uint, deduct int64) (int64, error) {
	for deduct > 0 {
		var mark models.Mark
		err := forUpdate(tx).
			Where("remaining > 0 AND cleared = ? AND user_id = ?", true, userID).
			Order("created_at").First(&mark).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return deduct, nil
		}
		if err != nil {
			return deduct, err
		}
		take := mark.Remaining
		if take > deduct {
			take = deduct
		}
		if err := tx.Model(&mark).
			UpdateColumn("remaining", mark.Remaining-take).Error; err != nil {
			return deduct, err
		}
		deduct -= take
	}
	return 0, nil
}

func drainCharges(tx *gorm.DB, userID uint, deduct int64) (int64, error) {
	for deduct > 0 {
		var charge models.Charge
		err := forUpdate(tx).
			Where("remaining > 0 AND cleared = ? AND user_id = ?", true, userID).
			Order("created_at").First(&charge).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return deduct, nil
		}
		if err != nil {
			return deduct, err
		}
		take := charge.Remaining
		if take > deduct {
			take = deduct
		}
		if err := tx.Model(&charge).
			UpdateColumn("remaining", charge.Remaining-take).Error; err != nil {
			return deduct, err
		}
		deduct -= take
	}
	return 0, nil
}

// auditLog appends one row to the target's audit table. Each row stores a
// JSON snapshot of the target as it stood after the change, so the ledger
// can be replayed without joining back to mutable rows.
func auditLog(tx *gorm.DB, actorID uint, action string, data map[string]interface{}, target interface{}) error {
	snap, err := json.Marshal(target)
	if err != nil {
		return err
	}
	base := models.LogBase{
		ActorID: actorID,
		Action:  action,
		Data:    datatypes.JSONMap(data),
		Blob:    datatypes.JSON(snap),
	}
	switch t := target.(type) {
	case *models.Charge:
		return tx.Create(&models.ChargeLog{LogBase: base, ChargeID: t.ID}).Error
	case *models.Earmark:
		return tx.Create(&models.EarmarkLog{LogBase: base, EarmarkID: t.ID}).Error
	case *models.Mark:
		return tx.Create(&models.MarkLog{LogBase: base, MarkID: t.ID}).Error
	case *models.Recipient:
		return tx.Create(&models.RecipientLog{LogBase: base, RecipientID: t.ID}).Error
	case *models.Transfer:
		return tx.Create(&models.TransferLog{LogBase: base, TransferID: t.ID}).Error
	}
	return fmt.Errorf("funding: no audit table for %T", target)
}

func actorID(actor *models.User) uint {
	if actor == nil {
		return 0
	}
	return actor.ID
}
