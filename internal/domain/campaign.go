package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Campaign errors.
var (
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrInvalidTransition   = errors.New("invalid campaign status transition")
	ErrCampaignRunning     = errors.New("campaign is running")
	ErrCampaignFinished    = errors.New("campaign is completed or cancelled")
	ErrEmptyCampaignName   = errors.New("campaign name is required")
	ErrInvalidChannel      = errors.New("channel must be 'whatsapp', 'instagram', 'email', or 'sms'")
	ErrInvalidThrottle     = errors.New("throttle rates must not be negative")
	ErrInvalidWindow       = errors.New("sending window hours must be between 0 and 23")
	ErrInvalidTimezone     = errors.New("sending window timezone is not a known IANA zone")
	ErrMissingVariants     = errors.New("A/B test campaigns need at least one variant")
	ErrInvalidPercentage   = errors.New("variant percentage must be between 0 and 100")
	ErrScheduleInPast      = errors.New("scheduled time is too far in the past")
	ErrNoTargeting         = errors.New("campaign targets no segments or contacts")
	ErrEmptyVariantContent = errors.New("variant content body or template is required")
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

// campaignTransitions lists the allowed target states per source state.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignCancelled},
	CampaignScheduled: {CampaignScheduled, CampaignRunning, CampaignCancelled},
	CampaignRunning:   {CampaignPaused, CampaignCompleted, CampaignCancelled},
	CampaignPaused:    {CampaignRunning, CampaignScheduled, CampaignCancelled},
}

// IsTerminal returns true for COMPLETED and CANCELLED.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

// CanTransitionTo reports whether the state machine allows s -> to.
func (s CampaignStatus) CanTransitionTo(to CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Channel is the delivery channel of a campaign.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
)

// IsValid returns true for a supported channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelWhatsApp, ChannelInstagram, ChannelEmail, ChannelSMS:
		return true
	default:
		return false
	}
}

// Content is the message a campaign or variant sends.
type Content struct {
	TemplateName string `json:"templateName,omitempty"`
	Language     string `json:"language,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Body         string `json:"body,omitempty"`
}

// IsEmpty returns true when there is nothing to send.
func (c Content) IsEmpty() bool {
	return c.TemplateName == "" && c.Body == ""
}

// Targeting selects recipients by segment and explicit contact lists.
type Targeting struct {
	SegmentIDs        []string `json:"segmentIds"`
	ContactIDs        []string `json:"contactIds"`
	ExcludeSegmentIDs []string `json:"excludeSegmentIds"`
	ExcludeContactIDs []string `json:"excludeContactIds"`
}

// IsEmpty returns true when nothing is included.
func (t Targeting) IsEmpty() bool {
	return len(t.SegmentIDs) == 0 && len(t.ContactIDs) == 0
}

func (t Targeting) clone() Targeting {
	return Targeting{
		SegmentIDs:        append([]string(nil), t.SegmentIDs...),
		ContactIDs:        append([]string(nil), t.ContactIDs...),
		ExcludeSegmentIDs: append([]string(nil), t.ExcludeSegmentIDs...),
		ExcludeContactIDs: append([]string(nil), t.ExcludeContactIDs...),
	}
}

// SendingWindow is the local time range messages should go out in.
// It is validated but not yet applied to delivery delays.
type SendingWindow struct {
	StartHour int    `json:"startHour"`
	EndHour   int    `json:"endHour"`
	Timezone  string `json:"timezone"`
}

// Validate checks the hours and that the timezone loads.
func (w *SendingWindow) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return ErrInvalidWindow
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidTimezone, w.Timezone)
		}
	}
	return nil
}

// Throttle rate-limits delivery. MessagesPerMinute wins when both rates are set.
type Throttle struct {
	Enabled           bool           `json:"enabled"`
	MessagesPerMinute int            `json:"messagesPerMinute,omitempty"`
	MessagesPerHour   int            `json:"messagesPerHour,omitempty"`
	SendingWindow     *SendingWindow `json:"sendingWindow,omitempty"`
}

// Validate checks rates and the window.
func (t *Throttle) Validate() error {
	if t.MessagesPerMinute < 0 || t.MessagesPerHour < 0 {
		return ErrInvalidThrottle
	}
	if t.SendingWindow != nil {
		return t.SendingWindow.Validate()
	}
	return nil
}

// Variant is one arm of an A/B test.
type Variant struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
	Content    Content `json:"content"`
}

// CampaignStats are derived from execution records and never edited directly.
type CampaignStats struct {
	Targeted        int             `json:"targeted"`
	Sent            int             `json:"sent"`
	Delivered       int             `json:"delivered"`
	Failed          int             `json:"failed"`
	Bounced         int             `json:"bounced"`
	Opened          int             `json:"opened"`
	Clicked         int             `json:"clicked"`
	Replied         int             `json:"replied"`
	Converted       int             `json:"converted"`
	ConversionValue decimal.Decimal `json:"conversionValue"`
	Pending         int             `json:"pending"`
	Queued          int             `json:"queued"`
}

// Equal compares stats field by field, using decimal equality for money.
func (s CampaignStats) Equal(o CampaignStats) bool {
	a, b := s, o
	a.ConversionValue, b.ConversionValue = decimal.Zero, decimal.Zero
	return a == b && s.ConversionValue.Equal(o.ConversionValue)
}

// Outstanding is the number of executions that have not been attempted yet.
func (s CampaignStats) Outstanding() int {
	return s.Pending + s.Queued
}

// Campaign is a tenant-scoped outbound messaging run on one channel.
type Campaign struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenantId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Channel     Channel        `json:"channel"`
	Status      CampaignStatus `json:"status"`
	Content     Content        `json:"content"`
	Targeting   Targeting      `json:"targeting"`
	Throttle    Throttle       `json:"throttle"`
	IsABTest    bool           `json:"isAbTest"`
	Variants    []Variant      `json:"variants,omitempty"`
	Stats       CampaignStats  `json:"stats"`
	ScheduledAt *time.Time     `json:"scheduledAt,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Clone returns a copy that shares no slices or pointers with the receiver.
func (c *Campaign) Clone() *Campaign {
	out := *c
	out.Targeting = c.Targeting.clone()
	out.Variants = append([]Variant(nil), c.Variants...)
	if c.Throttle.SendingWindow != nil {
		w := *c.Throttle.SendingWindow
		out.Throttle.SendingWindow = &w
	}
	out.ScheduledAt = cloneTime(c.ScheduledAt)
	out.StartedAt = cloneTime(c.StartedAt)
	out.CompletedAt = cloneTime(c.CompletedAt)
	return &out
}

// TransitionTo moves the campaign to a new status and stamps the
// transition time. It returns ErrInvalidTransition for edges the state
// machine does not allow.
func (c *Campaign) TransitionTo(to CampaignStatus, at time.Time) error {
	if !c.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	switch to {
	case CampaignRunning:
		if c.StartedAt == nil {
			c.StartedAt = &at
		}
	case CampaignCompleted, CampaignCancelled:
		c.CompletedAt = &at
	}
	c.UpdatedAt = at
	return nil
}

// CheckEditable returns an error if the campaign definition may no longer change.
func (c *Campaign) CheckEditable() error {
	if c.Status == CampaignRunning {
		return ErrCampaignRunning
	}
	if c.Status.IsTerminal() {
		return ErrCampaignFinished
	}
	return nil
}

// ContentFor returns the content for a variant, falling back to the campaign content.
func (c *Campaign) ContentFor(variantID string) Content {
	for _, v := range c.Variants {
		if v.ID == variantID && !v.Content.IsEmpty() {
			return v.Content
		}
	}
	return c.Content
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CampaignFilter provides filtering options for listing campaigns.
type CampaignFilter struct {
	TenantID string
	Status   CampaignStatus
	Limit    int
	Offset   int
}

// CampaignRequest is the body for creating or updating a campaign.
type CampaignRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Channel     Channel   `json:"channel"`
	Content     Content   `json:"content"`
	Targeting   Targeting `json:"targeting"`
	Throttle    Throttle  `json:"throttle"`
	IsABTest    bool      `json:"isAbTest"`
	Variants    []Variant `json:"variants"`
}

// Validate checks the request. Variant percentages are range-checked
// individually; their sum is not enforced.
func (r *CampaignRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrEmptyCampaignName
	}
	r.Channel = Channel(strings.ToLower(string(r.Channel)))
	if !r.Channel.IsValid() {
		return ErrInvalidChannel
	}
	if err := r.Throttle.Validate(); err != nil {
		return err
	}
	if r.IsABTest && len(r.Variants) == 0 {
		return ErrMissingVariants
	}
	for _, v := range r.Variants {
		if v.Percentage < 0 || v.Percentage > 100 {
			return ErrInvalidPercentage
		}
	}
	return nil
}

// ToCampaign converts the request to a DRAFT campaign. Variants without an
// ID get one from newID.
func (r *CampaignRequest) ToCampaign(id, tenantID string, newID func() string) *Campaign {
	now := time.Now().UTC()
	c := &Campaign{
		ID:        id,
		TenantID:  tenantID,
		Status:    CampaignDraft,
		Version:   1,
		CreatedAt: now,
	}
	r.ApplyTo(c, newID)
	return c
}

// ApplyTo overwrites the campaign definition.
func (r *CampaignRequest) ApplyTo(c *Campaign, newID func() string) {
	c.Name = r.Name
	c.Description = r.Description
	c.Channel = r.Channel
	c.Content = r.Content
	c.Targeting = r.Targeting.clone()
	c.Throttle = r.Throttle
	c.IsABTest = r.IsABTest
	c.Variants = make([]Variant, len(r.Variants))
	for i, v := range r.Variants {
		if v.ID == "" {
			v.ID = newID()
		}
		c.Variants[i] = v
	}
	c.UpdatedAt = time.Now().UTC()
}

// ScheduleRequest schedules a campaign. A nil At means start now.
type ScheduleRequest struct {
	At *time.Time `json:"scheduledAt"`
}
