// Package segment materializes segment membership.
//
// DYNAMIC segments are evaluated against current contact data on every
// read. STATIC segments keep the member IDs found by the last recalculation
// and serve reads from that snapshot until recalculated again.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"herald-go/internal/domain"
	"herald-go/internal/metrics"
	"herald-go/internal/rules"
	"herald-go/internal/store"
)

// lockTTL bounds how long a crashed worker can hold a segment.
const lockTTL = 30 * time.Second

// Service manages segments and their membership.
type Service struct {
	segments store.SegmentRepository
	contacts store.ContactRepository
	locker   store.Locker
	compiler *rules.Compiler
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates a new segment service.
func NewService(
	segments store.SegmentRepository,
	contacts store.ContactRepository,
	locker store.Locker,
	logger *slog.Logger,
) *Service {
	return &Service{
		segments: segments,
		contacts: contacts,
		locker:   locker,
		compiler: rules.NewCompiler(logger),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// SetClock replaces the clock used for timestamps and time-relative rules.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.compiler.Now = now
}

// Create stores a new segment and computes its initial membership.
// A failed initial count is logged and left for the next recalculation.
func (s *Service) Create(ctx context.Context, tenantID string, req *domain.CreateSegmentRequest) (*domain.Segment, error) {
	if tenantID == "" {
		return nil, domain.ErrEmptyTenantID
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	segment := req.ToSegment(s.newID(), tenantID)
	if err := s.segments.Create(ctx, segment); err != nil {
		return nil, fmt.Errorf("failed to create segment: %w", err)
	}

	s.logger.Info("segment created",
		"tenant_id", tenantID,
		"segment_id", segment.ID,
		"type", segment.Type,
	)

	if _, err := s.Recalculate(ctx, tenantID, segment.ID); err != nil {
		s.logger.Warn("initial segment count failed, deferring",
			"segment_id", segment.ID,
			"error", err,
		)
		return segment, nil
	}

	return s.segments.GetByID(ctx, tenantID, segment.ID)
}

// Update applies a partial update. Changing the rules or the type triggers
// a recalculation.
func (s *Service) Update(ctx context.Context, tenantID, id string, req *domain.UpdateSegmentRequest) (*domain.Segment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, store.SegmentLockKey(id), lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	segment, err := s.segments.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if segment.IsSystem {
		return nil, domain.ErrSystemSegment
	}

	if req.ApplyTo(segment) {
		if err := s.recalculate(ctx, segment); err != nil {
			return nil, err
		}
	}

	if err := s.segments.Update(ctx, segment); err != nil {
		return nil, fmt.Errorf("failed to update segment: %w", err)
	}

	return segment, nil
}

// Delete removes a segment. System segments cannot be deleted.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	segment, err := s.segments.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if segment.IsSystem {
		return domain.ErrSystemSegment
	}

	if err := s.segments.Delete(ctx, tenantID, id); err != nil {
		return err
	}

	s.logger.Info("segment deleted", "tenant_id", tenantID, "segment_id", id)
	return nil
}

// Get retrieves a segment.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Segment, error) {
	return s.segments.GetByID(ctx, tenantID, id)
}

// List retrieves the tenant's segments.
func (s *Service) List(ctx context.Context, filter domain.SegmentFilter) ([]*domain.Segment, error) {
	if filter.TenantID == "" {
		return nil, domain.ErrEmptyTenantID
	}
	return s.segments.List(ctx, filter)
}

// Recalculate evaluates the segment's rules, stores the new count and
// calculation time, and for STATIC segments snapshots the member IDs.
func (s *Service) Recalculate(ctx context.Context, tenantID, id string) (int, error) {
	release, err := s.locker.Acquire(ctx, store.SegmentLockKey(id), lockTTL)
	if err != nil {
		return 0, err
	}
	defer release()

	segment, err := s.segments.GetByID(ctx, tenantID, id)
	if err != nil {
		return 0, err
	}

	if err := s.recalculate(ctx, segment); err != nil {
		return 0, err
	}

	if err := s.segments.Update(ctx, segment); err != nil {
		return 0, fmt.Errorf("failed to store segment calculation: %w", err)
	}

	return segment.ContactCount, nil
}

// recalculate runs the rules and applies the result to segment without
// persisting it. Callers must hold the segment lock.
func (s *Service) recalculate(ctx context.Context, segment *domain.Segment) error {
	start := time.Now()

	ids, err := s.contacts.FindMatching(ctx, segment.TenantID, s.compile(segment.Rules, "segment_id", segment.ID))
	if err != nil {
		metrics.SegmentRecalculationsTotal.WithLabelValues(string(segment.Type), "failure").Inc()
		return fmt.Errorf("failed to evaluate segment %s: %w", segment.ID, err)
	}

	segment.ApplyCalculation(ids, s.now())

	metrics.SegmentRecalculationsTotal.WithLabelValues(string(segment.Type), "success").Inc()
	metrics.SegmentRecalculationLatency.Observe(time.Since(start).Seconds())
	metrics.SegmentSize.Observe(float64(len(ids)))

	s.logger.Debug("segment recalculated",
		"segment_id", segment.ID,
		"type", segment.Type,
		"count", len(ids),
	)
	return nil
}

// GetMembers returns the segment's contact IDs. STATIC segments with a
// snapshot are served from it; everything else is evaluated live.
func (s *Service) GetMembers(ctx context.Context, tenantID, id string) ([]string, error) {
	segment, err := s.segments.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if segment.IsStatic() && len(segment.ContactIDs) > 0 {
		return segment.ContactIDs, nil
	}

	ids, err := s.contacts.FindMatching(ctx, tenantID, s.compile(segment.Rules, "segment_id", segment.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate segment %s: %w", segment.ID, err)
	}
	return ids, nil
}

// ContactMatches reports whether a contact belongs to the segment. It agrees
// with GetMembers: STATIC segments with a snapshot check the snapshot, and
// everything else evaluates the rules against that one contact.
func (s *Service) ContactMatches(ctx context.Context, tenantID, contactID, segmentID string) (bool, error) {
	segment, err := s.segments.GetByID(ctx, tenantID, segmentID)
	if err != nil {
		return false, err
	}

	if segment.IsStatic() && len(segment.ContactIDs) > 0 {
		return slices.Contains(segment.ContactIDs, contactID), nil
	}

	return s.contacts.MatchesContact(ctx, tenantID, contactID, s.compile(segment.Rules, "segment_id", segment.ID))
}

// Preview counts the contacts a rule tree would select without storing
// anything, and returns the conditions the compiler dropped.
func (s *Service) Preview(ctx context.Context, tenantID string, group domain.RuleGroup) (int, []rules.Warning, error) {
	if err := group.Validate(); err != nil {
		return 0, nil, err
	}

	q := s.compile(group, "tenant_id", tenantID)
	count, err := s.contacts.CountMatching(ctx, tenantID, q)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count preview: %w", err)
	}
	return count, q.Warnings, nil
}

// EnsureSystemSegments creates the tenant's "All Contacts" segment if it
// does not exist and returns it.
func (s *Service) EnsureSystemSegments(ctx context.Context, tenantID string) (*domain.Segment, error) {
	if tenantID == "" {
		return nil, domain.ErrEmptyTenantID
	}

	release, err := s.locker.Acquire(ctx, store.SegmentLockKey("system:"+tenantID), lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.segments.List(ctx, domain.SegmentFilter{TenantID: tenantID, Type: domain.SegmentDynamic})
	if err != nil {
		return nil, err
	}
	for _, seg := range existing {
		if seg.IsSystem && seg.Name == domain.AllContactsSegmentName {
			return seg, nil
		}
	}

	now := s.now()
	segment := &domain.Segment{
		ID:          s.newID(),
		TenantID:    tenantID,
		Name:        domain.AllContactsSegmentName,
		Description: "Every contact of the tenant",
		Type:        domain.SegmentDynamic,
		Rules:       domain.And(),
		IsSystem:    true,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.recalculate(ctx, segment); err != nil {
		s.logger.Warn("initial count of system segment failed", "tenant_id", tenantID, "error", err)
	}
	if err := s.segments.Create(ctx, segment); err != nil {
		return nil, fmt.Errorf("failed to create system segment: %w", err)
	}

	s.logger.Info("system segment created", "tenant_id", tenantID, "segment_id", segment.ID)
	return segment, nil
}

// compile compiles a rule tree and counts dropped conditions.
func (s *Service) compile(group domain.RuleGroup, logAttrs ...any) *rules.Query {
	q := s.compiler.Compile(group, logAttrs...)
	for _, w := range q.Warnings {
		metrics.RuleCompileWarningsTotal.WithLabelValues(string(w.Kind)).Inc()
	}
	return q
}
