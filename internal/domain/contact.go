// Package domain contains the core business entities and value objects for Herald.
// These models represent the language of segment targeting and campaign delivery.
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Contact errors.
var (
	ErrContactNotFound = errors.New("contact not found")
	ErrEmptyTenantID   = errors.New("tenant id is required")
	ErrEmptyContact    = errors.New("contact needs a name, email, phone or instagram id")
)

// EcommerceData is the order summary synced from a storefront.
type EcommerceData struct {
	TotalOrders       int             `json:"totalOrders"`
	TotalSpent        decimal.Decimal `json:"totalSpent"`
	AverageOrderValue decimal.Decimal `json:"averageOrderValue"`
	LastOrderDate     *time.Time      `json:"lastOrderDate,omitempty"`
	Currency          string          `json:"currency,omitempty"`
}

// Contact is a tenant-scoped messaging recipient.
type Contact struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenantId"`
	Name            string         `json:"name"`
	Email           string         `json:"email,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	InstagramID     string         `json:"instagramId,omitempty"`
	Tags            []string       `json:"tags"`
	LifecycleStage  string         `json:"lifecycleStage,omitempty"`
	Source          string         `json:"source,omitempty"`
	CustomFields    map[string]any `json:"customFields,omitempty"`
	EcommerceData   *EcommerceData `json:"ecommerceData,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	LastContactedAt *time.Time     `json:"lastContactedAt,omitempty"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (c *Contact) Clone() *Contact {
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	if c.CustomFields != nil {
		out.CustomFields = make(map[string]any, len(c.CustomFields))
		for k, v := range c.CustomFields {
			out.CustomFields[k] = v
		}
	}
	if c.EcommerceData != nil {
		ed := *c.EcommerceData
		out.EcommerceData = &ed
	}
	return &out
}

// FirstName returns the first whitespace separated word of the name.
func (c *Contact) FirstName() string {
	fields := strings.Fields(c.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// AddressFor returns the recipient address for a channel, or "" when the
// contact cannot be reached on it.
func (c *Contact) AddressFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelWhatsApp, ChannelSMS:
		return c.Phone
	case ChannelInstagram:
		return c.InstagramID
	default:
		return ""
	}
}

// ContactFilter provides filtering options for listing contacts.
type ContactFilter struct {
	TenantID string
	Tag      string
	Limit    int
	Offset   int
}

// ContactRequest is the body for creating or replacing a contact.
type ContactRequest struct {
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone"`
	InstagramID    string         `json:"instagramId"`
	Tags           []string       `json:"tags"`
	LifecycleStage string         `json:"lifecycleStage"`
	Source         string         `json:"source"`
	CustomFields   map[string]any `json:"customFields"`
	EcommerceData  *EcommerceData `json:"ecommerceData"`
}

// Validate checks the request identifies a reachable person.
func (r *ContactRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" && r.Email == "" && r.Phone == "" && r.InstagramID == "" {
		return ErrEmptyContact
	}
	return nil
}

// ToContact converts the request to a Contact entity.
func (r *ContactRequest) ToContact(id, tenantID string) *Contact {
	now := time.Now().UTC()
	c := &Contact{
		ID:        id,
		TenantID:  tenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.ApplyTo(c)
	c.UpdatedAt = now
	return c
}

// ApplyTo overwrites the mutable fields of an existing contact.
func (r *ContactRequest) ApplyTo(c *Contact) {
	c.Name = r.Name
	c.Email = r.Email
	c.Phone = r.Phone
	c.InstagramID = r.InstagramID
	c.Tags = append([]string{}, r.Tags...)
	c.LifecycleStage = r.LifecycleStage
	c.Source = r.Source
	c.CustomFields = r.CustomFields
	c.EcommerceData = r.EcommerceData
	c.UpdatedAt = time.Now().UTC()
}
