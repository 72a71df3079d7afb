// Package models contains the row models of the gorm snapshot backend.
package models

import (
	"time"

	domain "github.com/gartstein/crm/internal/crm/models"
)

// Customer is one stored customer row. Position keeps the store's insertion
// order, which the integer primary key alone cannot express after an import.
// The timestamp fields are not named CreatedAt/UpdatedAt so gorm leaves them alone.
type Customer struct {
	ID       int64      `gorm:"primaryKey;autoIncrement:false"`
	Position int        `gorm:"index;not null"`
	Name     string     `gorm:"size:255;not null"`
	Email    string     `gorm:"size:255;uniqueIndex;not null"`
	Phone    string     `gorm:"size:64"`
	Company  string     `gorm:"size:255"`
	Industry string     `gorm:"size:32"`
	Status   string     `gorm:"size:16;not null"`
	Added    time.Time  `gorm:"column:added_at;not null"`
	Modified *time.Time `gorm:"column:updated_at"`
}

// TableName returns the table name for the Customer model.
func (Customer) TableName() string {
	return "customers"
}

// FromDomain converts a domain customer at the given position into a row.
func FromDomain(c domain.Customer, position int) Customer {
	c = c.Clone()
	return Customer{
		ID:       c.ID,
		Position: position,
		Name:     c.Name,
		Email:    c.Email,
		Phone:    c.Phone,
		Company:  c.Company,
		Industry: string(c.Industry),
		Status:   string(c.Status),
		Added:    c.AddedAt.UTC(),
		Modified: utcPtr(c.UpdatedAt),
	}
}

// ToDomain converts a row back into a domain customer.
func (r Customer) ToDomain() domain.Customer {
	return domain.Customer{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Phone:     r.Phone,
		Company:   r.Company,
		Industry:  domain.Industry(r.Industry),
		Status:    domain.Status(r.Status),
		AddedAt:   r.Added.UTC(),
		UpdatedAt: utcPtr(r.Modified),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Sequence holds a named counter. The customers row keeps the next id so
// ids of deleted customers are not handed out again after a restart.
type Sequence struct {
	Name string `gorm:"primaryKey;size:64"`
	Next int64  `gorm:"not null"`
}

// TableName returns the table name for the Sequence model.
func (Sequence) TableName() string {
	return "crm_sequences"
}
