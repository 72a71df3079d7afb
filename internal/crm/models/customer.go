// Package models defines the core domain model for the customer record
// manager: Customer, its creation input NewCustomer, the partial CustomerUpdate,
// and the Industry and Status enumerations.
package models

import (
	"strings"
	"time"
)

// Industry is the business sector of a customer. The zero value means the
// industry was not specified.
type Industry string

const (
	IndustryUnspecified Industry = ""
	Technology          Industry = "Technology"
	Healthcare          Industry = "Healthcare"
	Finance             Industry = "Finance"
	Education           Industry = "Education"
	Other               Industry = "Other"
)

// UnspecifiedLabel is the display label of IndustryUnspecified.
const UnspecifiedLabel = "Unspecified"

// Industries lists the specified industries in display order.
func Industries() []Industry {
	return []Industry{Technology, Healthcare, Finance, Education, Other}
}

// Label returns the display label, mapping the zero value to UnspecifiedLabel.
func (i Industry) Label() string {
	if i == IndustryUnspecified {
		return UnspecifiedLabel
	}
	return string(i)
}

// Valid reports whether i is one of the known industries or unspecified.
func (i Industry) Valid() bool {
	if i == IndustryUnspecified {
		return true
	}
	for _, known := range Industries() {
		if i == known {
			return true
		}
	}
	return false
}

// ParseIndustry resolves user input to an Industry, ignoring case.
// Empty input and UnspecifiedLabel both resolve to IndustryUnspecified.
func ParseIndustry(s string) (Industry, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, UnspecifiedLabel) {
		return IndustryUnspecified, true
	}
	for _, known := range Industries() {
		if strings.EqualFold(s, string(known)) {
			return known, true
		}
	}
	return IndustryUnspecified, false
}

// Status is the lifecycle status of a customer.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus resolves user input to a Status, ignoring case.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(StatusActive):
		return StatusActive, true
	case string(StatusInactive):
		return StatusInactive, true
	default:
		return "", false
	}
}

// Customer defines the domain model for a contact record.
type Customer struct {
	// ID is assigned by the store at creation and never changes or gets reused.
	ID int64 `json:"id"`
	// Name is the customer's display name.
	Name string `json:"name" validate:"required"`
	// Email must be unique across live records.
	Email string `json:"email" validate:"required,email"`
	// Phone is free-form.
	Phone string `json:"phone"`
	// Company may be empty.
	Company string `json:"company"`
	// Industry is omitted from the snapshot when unspecified.
	Industry Industry `json:"industry,omitempty" validate:"industry"`
	// Status defaults to active.
	Status Status `json:"status" validate:"required,oneof=active inactive"`
	// AddedAt is set once at creation.
	AddedAt time.Time `json:"added_at"`
	// UpdatedAt is nil until the first successful update.
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of c.
func (c Customer) Clone() Customer {
	if c.UpdatedAt != nil {
		t := *c.UpdatedAt
		c.UpdatedAt = &t
	}
	return c
}

// Normalize trims text fields and applies the default status.
func (c Customer) Normalize() Customer {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Company = strings.TrimSpace(c.Company)
	if c.Status == "" {
		c.Status = StatusActive
	}
	return c
}

// NewCustomer carries the caller-supplied fields of a customer to create.
type NewCustomer struct {
	Name     string
	Email    string
	Phone    string
	Company  string
	Industry Industry
	Status   Status
}

// CustomerUpdate represents the fields that can be updated for a Customer.
// Pointer types are used to allow partial updates.
type CustomerUpdate struct {
	// ID identifies the customer to update.
	ID       int64
	Name     *string
	Email    *string
	Phone    *string
	Company  *string
	Industry *Industry
	Status   *Status
}

// Empty reports whether the update carries no field changes.
func (u CustomerUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.Phone == nil &&
		u.Company == nil && u.Industry == nil && u.Status == nil
}

// Apply returns a copy of c with the supplied fields replaced. ID, AddedAt and
// UpdatedAt are left untouched.
func (u CustomerUpdate) Apply(c Customer) Customer {
	c = c.Clone()
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Email != nil {
		c.Email = *u.Email
	}
	if u.Phone != nil {
		c.Phone = *u.Phone
	}
	if u.Company != nil {
		c.Company = *u.Company
	}
	if u.Industry != nil {
		c.Industry = *u.Industry
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	return c.Normalize()
}
