package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"herald-go/internal/domain"
	"herald-go/internal/rules"
)

// ContactRepository is an in-memory implementation of store.ContactRepository.
// Rule queries are evaluated with the compiled in-memory predicate.
type ContactRepository struct {
	mu sync.RWMutex

	// contacts stores contacts by tenant ID, then contact ID
	contacts map[string]map[string]*domain.Contact
}

// NewContactRepository creates a new in-memory contact repository.
func NewContactRepository() *ContactRepository {
	return &ContactRepository{
		contacts: make(map[string]map[string]*domain.Contact),
	}
}

// Create stores a new contact.
func (r *ContactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant := r.contacts[contact.TenantID]
	if tenant == nil {
		tenant = make(map[string]*domain.Contact)
		r.contacts[contact.TenantID] = tenant
	}
	tenant[contact.ID] = contact.Clone()
	return nil
}

// Update replaces an existing contact.
func (r *ContactRepository) Update(ctx context.Context, contact *domain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant := r.contacts[contact.TenantID]
	if _, exists := tenant[contact.ID]; !exists {
		return domain.ErrContactNotFound
	}
	tenant[contact.ID] = contact.Clone()
	return nil
}

// Delete removes a contact.
func (r *ContactRepository) Delete(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant := r.contacts[tenantID]
	if _, exists := tenant[id]; !exists {
		return domain.ErrContactNotFound
	}
	delete(tenant, id)
	return nil
}

// GetByID retrieves a contact.
func (r *ContactRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	contact, exists := r.contacts[tenantID][id]
	if !exists {
		return nil, domain.ErrContactNotFound
	}
	return contact.Clone(), nil
}

// List retrieves contacts matching the filter, oldest first.
func (r *ContactRepository) List(ctx context.Context, filter domain.ContactFilter) ([]*domain.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*domain.Contact
	for _, c := range r.sorted(filter.TenantID) {
		if filter.Tag != "" && !slices.Contains(c.Tags, filter.Tag) {
			continue
		}
		results = append(results, c.Clone())
	}

	return paginate(results, filter.Offset, filter.Limit), nil
}

// FindMatching returns the IDs of matching contacts ordered by creation time.
func (r *ContactRepository) FindMatching(ctx context.Context, tenantID string, q *rules.Query) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := []string{}
	for _, c := range r.sorted(tenantID) {
		if q.Match(c) {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

// CountMatching returns the number of matching contacts.
func (r *ContactRepository) CountMatching(ctx context.Context, tenantID string, q *rules.Query) (int, error) {
	ids, err := r.FindMatching(ctx, tenantID, q)
	return len(ids), err
}

// MatchesContact evaluates the query against one contact.
func (r *ContactRepository) MatchesContact(ctx context.Context, tenantID, contactID string, q *rules.Query) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	contact, exists := r.contacts[tenantID][contactID]
	if !exists {
		return false, domain.ErrContactNotFound
	}
	return q.Match(contact), nil
}

// sorted returns the tenant's contacts by creation time, then ID.
// Callers must hold the lock.
func (r *ContactRepository) sorted(tenantID string) []*domain.Contact {
	tenant := r.contacts[tenantID]
	out := make([]*domain.Contact, 0, len(tenant))
	for _, c := range tenant {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Clear removes all data from the repository. Useful for test cleanup.
func (r *ContactRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.contacts = make(map[string]map[string]*domain.Contact)
}

// paginate applies offset and limit to a result slice.
func paginate[T any](results []T, offset, limit int) []T {
	start := offset
	if start > len(results) {
		start = len(results)
	}
	if start < 0 {
		start = 0
	}

	end := len(results)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	return results[start:end]
}
