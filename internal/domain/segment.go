package domain

import (
	"errors"
	"strings"
	"time"
)

// Segment errors.
var (
	ErrSegmentNotFound     = errors.New("segment not found")
	ErrSystemSegment       = errors.New("system segments cannot be modified or deleted")
	ErrEmptySegmentName    = errors.New("segment name is required")
	ErrInvalidSegmentType  = errors.New("segment type must be 'STATIC' or 'DYNAMIC'")
	ErrMissingSegmentRules = errors.New("segment rules are required")
)

// SegmentType decides whether membership is a cached snapshot or live.
type SegmentType string

const (
	// SegmentStatic serves membership from the snapshot taken at the last recalculation.
	SegmentStatic SegmentType = "STATIC"
	// SegmentDynamic always evaluates its rules against current contact data.
	SegmentDynamic SegmentType = "DYNAMIC"
)

// IsValid returns true for a known segment type.
func (t SegmentType) IsValid() bool {
	return t == SegmentStatic || t == SegmentDynamic
}

// AllContactsSegmentName is the name of the per-tenant system segment.
const AllContactsSegmentName = "All Contacts"

// Segment is a named, tenant-scoped set of contacts defined by a rule tree.
//
// For STATIC segments ContactIDs is the membership until the next
// recalculation. For DYNAMIC segments ContactIDs is never populated and
// ContactCount is only a cache.
type Segment struct {
	ID               string      `json:"id"`
	TenantID         string      `json:"tenantId"`
	Name             string      `json:"name"`
	Description      string      `json:"description,omitempty"`
	Type             SegmentType `json:"type"`
	Rules            RuleGroup   `json:"rules"`
	ContactIDs       []string    `json:"contactIds,omitempty"`
	ContactCount     int         `json:"contactCount"`
	LastCalculatedAt *time.Time  `json:"lastCalculatedAt,omitempty"`
	IsSystem         bool        `json:"isSystem"`
	Version          int         `json:"version"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// IsStatic returns true for STATIC segments.
func (s *Segment) IsStatic() bool {
	return s.Type == SegmentStatic
}

// Clone returns a copy that shares no slices with the receiver.
func (s *Segment) Clone() *Segment {
	out := *s
	out.ContactIDs = append([]string(nil), s.ContactIDs...)
	out.Rules = s.Rules.Clone()
	if s.LastCalculatedAt != nil {
		t := *s.LastCalculatedAt
		out.LastCalculatedAt = &t
	}
	return &out
}

// ApplyCalculation records the result of a membership calculation.
// Only STATIC segments keep the member IDs.
func (s *Segment) ApplyCalculation(ids []string, at time.Time) {
	s.ContactCount = len(ids)
	s.LastCalculatedAt = &at
	if s.IsStatic() {
		s.ContactIDs = append([]string{}, ids...)
	} else {
		s.ContactIDs = nil
	}
	s.UpdatedAt = at
}

// Clone deep-copies the rule tree.
func (g RuleGroup) Clone() RuleGroup {
	out := RuleGroup{Combinator: g.Combinator}
	if g.Rules == nil {
		return out
	}
	out.Rules = make([]RuleNode, len(g.Rules))
	for i, n := range g.Rules {
		switch {
		case n.Kind == NodeGroup && n.Group != nil:
			out.Rules[i] = GroupNode(n.Group.Clone())
		case n.Kind == NodeRule && n.Rule != nil:
			out.Rules[i] = LeafNode(*n.Rule)
		default:
			out.Rules[i] = n
		}
	}
	return out
}

// SegmentFilter provides filtering options for listing segments.
type SegmentFilter struct {
	TenantID string
	Type     SegmentType
	Limit    int
	Offset   int
}

// CreateSegmentRequest represents the input for creating a segment.
type CreateSegmentRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Type        SegmentType `json:"type"`
	Rules       *RuleGroup  `json:"rules"`
}

// Validate checks the create request has required fields.
func (r *CreateSegmentRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrEmptySegmentName
	}
	if r.Type == "" {
		r.Type = SegmentDynamic
	}
	r.Type = SegmentType(strings.ToUpper(string(r.Type)))
	if !r.Type.IsValid() {
		return ErrInvalidSegmentType
	}
	if r.Rules == nil {
		return ErrMissingSegmentRules
	}
	return r.Rules.Validate()
}

// ToSegment converts the request to a Segment entity.
func (r *CreateSegmentRequest) ToSegment(id, tenantID string) *Segment {
	now := time.Now().UTC()
	return &Segment{
		ID:          id,
		TenantID:    tenantID,
		Name:        r.Name,
		Description: r.Description,
		Type:        r.Type,
		Rules:       r.Rules.Clone(),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// UpdateSegmentRequest is a partial update. Nil fields are left unchanged.
type UpdateSegmentRequest struct {
	Name        *string      `json:"name"`
	Description *string      `json:"description"`
	Type        *SegmentType `json:"type"`
	Rules       *RuleGroup   `json:"rules"`
}

// Validate checks the present fields.
func (r *UpdateSegmentRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return ErrEmptySegmentName
	}
	if r.Type != nil {
		t := SegmentType(strings.ToUpper(string(*r.Type)))
		if !t.IsValid() {
			return ErrInvalidSegmentType
		}
		r.Type = &t
	}
	if r.Rules != nil {
		return r.Rules.Validate()
	}
	return nil
}

// ApplyTo updates the segment and reports whether membership must be recomputed.
func (r *UpdateSegmentRequest) ApplyTo(s *Segment) (recompute bool) {
	if r.Name != nil {
		s.Name = *r.Name
	}
	if r.Description != nil {
		s.Description = *r.Description
	}
	if r.Type != nil && *r.Type != s.Type {
		s.Type = *r.Type
		recompute = true
	}
	if r.Rules != nil {
		s.Rules = r.Rules.Clone()
		recompute = true
	}
	s.UpdatedAt = time.Now().UTC()
	return recompute
}
