package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"crowdlink/internal/apperror"
	"crowdlink/internal/models"
	"crowdlink/internal/utils"
)

const verifyCodeLen = 20

// CreateUser registers a new account with one unverified email address
// and mails the confirmation link.
func CreateUser(db *gorm.DB, username, password, emailAddr string) (*models.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if len(username) < 3 || len(username) > 32 {
		return nil, apperror.Validation("username must be between 3 and 32 characters")
	}
	if len(password) < 6 {
		return nil, apperror.Validation("password must be at least 6 characters")
	}
	if !strings.Contains(emailAddr, "@") {
		return nil, apperror.Validation("a valid email address is required")
	}

	var count int64
	if err := db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, apperror.Conflict("that username is already taken")
	}
	if err := db.Model(&models.EmailAddress{}).Where("address = ?", emailAddr).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, apperror.Conflict("that email address is already registered")
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:   username,
		Password:   hash,
		VerifyCode: utils.GenerateRandomCode(verifyCodeLen),
	}
	emailCode := utils.GenerateRandomCode(verifyCodeLen)
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		email := models.EmailAddress{
			UserID:     user.ID,
			Address:    emailAddr,
			Primary:    true,
			VerifyCode: emailCode,
		}
		return tx.Create(&email).Error
	})
	if err != nil {
		return nil, err
	}

	GetMailService().SendConfirmEmail(emailAddr, username, emailCode)
	return user, nil
}

// Authenticate resolves a username/password pair to the stored user. The
// same error covers a missing user and a wrong password.
func Authenticate(db *gorm.DB, username, password string) (*models.User, error) {
	var user models.User
	err := db.Where("username = ?", strings.ToLower(username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Validation("invalid username or password")
	}
	if err != nil {
		return nil, err
	}
	if !utils.CheckPassword(user.Password, password) {
		return nil, apperror.Validation("invalid username or password")
	}
	return &user, nil
}

// ActivateEmail marks an email address verified by its confirmation code
// and activates the owning account.
func ActivateEmail(db *gorm.DB, code string) (*models.User, error) {
	if code == "" {
		return nil, apperror.Syntax("activation code is required")
	}
	var email models.EmailAddress
	err := db.Where("verify_code = ? AND verified = ?", code, false).First(&email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("activation code")
	}
	if err != nil {
		return nil, err
	}

	var user models.User
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&email).Updates(map[string]interface{}{
			"verified":    true,
			"verify_code": "",
		}).Error; err != nil {
			return err
		}
		if err := tx.First(&user, email.UserID).Error; err != nil {
			return err
		}
		return tx.Model(&user).UpdateColumn("is_activated", true).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// StartRecovery issues a recovery code to the account's primary email.
// The response never reveals whether the address exists.
func StartRecovery(db *gorm.DB, emailAddr string) error {
	var email models.EmailAddress
	err := db.Where("address = ?", strings.ToLower(emailAddr)).First(&email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var user models.User
	if err := db.First(&user, email.UserID).Error; err != nil {
		return err
	}
	code := utils.GenerateRandomCode(verifyCodeLen)
	if err := db.Model(&user).UpdateColumn("verify_code", code).Error; err != nil {
		return err
	}
	GetMailService().SendRecoveryEmail(email.Address, user.Username, code)
	return nil
}

// ResetPassword consumes a recovery code and installs the new password.
func ResetPassword(db *gorm.DB, code, password string) error {
	if code == "" {
		return apperror.Syntax("recovery code is required")
	}
	if len(password) < 6 {
		return apperror.Validation("password must be at least 6 characters")
	}
	var user models.User
	err := db.Where("verify_code = ? AND verify_code <> ''", code).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound("recovery code")
	}
	if err != nil {
		return err
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	return db.Model(&user).Updates(map[string]interface{}{
		"password":    hash,
		"verify_code": "",
	}).Error
}
