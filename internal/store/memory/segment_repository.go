package memory

import (
	"context"
	"sort"
	"sync"

	"herald-go/internal/domain"
)

// SegmentRepository is an in-memory implementation of store.SegmentRepository.
type SegmentRepository struct {
	mu sync.RWMutex

	// segments stores all segments by their ID
	segments map[string]*domain.Segment
}

// NewSegmentRepository creates a new in-memory segment repository.
func NewSegmentRepository() *SegmentRepository {
	return &SegmentRepository{
		segments: make(map[string]*domain.Segment),
	}
}

// Create stores a new segment.
func (r *SegmentRepository) Create(ctx context.Context, segment *domain.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if segment.Version == 0 {
		segment.Version = 1
	}
	r.segments[segment.ID] = segment.Clone()
	return nil
}

// Update stores the segment when the version matches and bumps the version.
func (r *SegmentRepository) Update(ctx context.Context, segment *domain.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.segments[segment.ID]
	if !exists || existing.TenantID != segment.TenantID {
		return domain.ErrSegmentNotFound
	}
	if existing.Version != segment.Version {
		return domain.ErrVersionConflict
	}

	segment.Version++
	r.segments[segment.ID] = segment.Clone()
	return nil
}

// Delete removes a segment.
func (r *SegmentRepository) Delete(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.segments[id]
	if !exists || existing.TenantID != tenantID {
		return domain.ErrSegmentNotFound
	}
	delete(r.segments, id)
	return nil
}

// GetByID retrieves a segment.
func (r *SegmentRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	segment, exists := r.segments[id]
	if !exists || segment.TenantID != tenantID {
		return nil, domain.ErrSegmentNotFound
	}
	return segment.Clone(), nil
}

// List retrieves segments matching the filter, newest first.
func (r *SegmentRepository) List(ctx context.Context, filter domain.SegmentFilter) ([]*domain.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*domain.Segment
	for _, s := range r.segments {
		if filter.TenantID != "" && s.TenantID != filter.TenantID {
			continue
		}
		if filter.Type != "" && s.Type != filter.Type {
			continue
		}
		results = append(results, s.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	return paginate(results, filter.Offset, filter.Limit), nil
}

// Clear removes all data from the repository. Useful for test cleanup.
func (r *SegmentRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.segments = make(map[string]*domain.Segment)
}
