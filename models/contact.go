package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/budgets_backend/config"
	"github.com/mmdatafocus/budgets_backend/utils"
	"github.com/shopspring/decimal"
)

// Contact is an address-book row owned by a user, referenced by actuals
// and sub-accounts of that same user.
type Contact struct {
	ID          int              `gorm:"primary_key" json:"id"`
	CreatedById int              `gorm:"index;not null" json:"created_by_id"`
	FirstName   string           `gorm:"size:64" json:"first_name"`
	LastName    string           `gorm:"size:64" json:"last_name"`
	Company     string           `gorm:"size:128" json:"company"`
	Position    string           `gorm:"size:128" json:"position"`
	Email       string           `gorm:"size:128" json:"email"`
	PhoneNumber string           `gorm:"size:32" json:"phone_number"`
	Rate        *decimal.Decimal `gorm:"type:decimal(20,8)" json:"rate"`
	ImagePath   string           `gorm:"size:255" json:"image_path"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c Contact) GetCreatedById() int {
	return c.CreatedById
}

type NewContact struct {
	FirstName   string           `json:"first_name"`
	LastName    string           `json:"last_name"`
	Company     string           `json:"company"`
	Position    string           `json:"position"`
	Email       string           `json:"email"`
	PhoneNumber string           `json:"phone_number"`
	Rate        *decimal.Decimal `json:"rate"`
	ImageName   *string          `json:"image_name"`
}

func (input *NewContact) validate() error {
	if input.PhoneNumber != "" {
		if err := utils.ValidatePhoneNumber(input.PhoneNumber, utils.CountryCode); err != nil {
			return structuralError("invalid phone number %q", input.PhoneNumber)
		}
	}
	return nil
}

func CreateContact(ctx context.Context, input *NewContact) (*Contact, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	contact := Contact{
		CreatedById: userId,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Company:     input.Company,
		Position:    input.Position,
		Email:       input.Email,
		PhoneNumber: input.PhoneNumber,
		Rate:        input.Rate,
	}
	if input.ImageName != nil {
		contact.ImagePath = utils.UploadTo(userId, *input.ImageName, "contacts")
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

func UpdateContact(ctx context.Context, id int, input *NewContact) (*Contact, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	contact, err := utils.FetchModel[Contact](ctx, userId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"FirstName":   input.FirstName,
		"LastName":    input.LastName,
		"Company":     input.Company,
		"Position":    input.Position,
		"Email":       input.Email,
		"PhoneNumber": input.PhoneNumber,
		"Rate":        input.Rate,
	}
	if input.ImageName != nil {
		updates["ImagePath"] = utils.UploadTo(userId, *input.ImageName, "contacts")
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(contact).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Contact](id); err != nil {
		logCacheError("contact.go", "UpdateContact", id, err)
	}
	return contact, nil
}

// DeleteContact removes the contact and clears the weak references on
// rows that pointed at it.
func DeleteContact(ctx context.Context, id int) (*Contact, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	contact, err := utils.FetchModel[Contact](ctx, userId, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Model(&Actual{}).Where("contact_id = ?", id).Update("contact_id", nil).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Model(&SubAccount{}).Where("contact_id = ?", id).Update("contact_id", nil).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Delete(contact).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisItem[Contact](id); err != nil {
		logCacheError("contact.go", "DeleteContact", id, err)
	}
	return contact, nil
}

func GetContact(ctx context.Context, id int) (*Contact, error) {
	return GetResource[Contact](ctx, id)
}

func GetContacts(ctx context.Context) ([]*Contact, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	return utils.FetchAllModels[Contact](ctx, userId)
}
