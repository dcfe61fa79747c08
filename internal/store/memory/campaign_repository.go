package memory

import (
	"context"
	"sort"
	"sync"

	"herald-go/internal/domain"
)

// CampaignRepository is an in-memory implementation of store.CampaignRepository.
// Deleting a campaign also deletes its executions from the linked
// ExecutionRepository, mirroring the cascading foreign key in PostgreSQL.
type CampaignRepository struct {
	mu sync.RWMutex

	// campaigns stores all campaigns by their ID
	campaigns map[string]*domain.Campaign

	executions *ExecutionRepository
}

// NewCampaignRepository creates a new in-memory campaign repository.
// executions may be nil when cascading deletes are not needed.
func NewCampaignRepository(executions *ExecutionRepository) *CampaignRepository {
	return &CampaignRepository{
		campaigns:  make(map[string]*domain.Campaign),
		executions: executions,
	}
}

// Create stores a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if campaign.Version == 0 {
		campaign.Version = 1
	}
	r.campaigns[campaign.ID] = campaign.Clone()
	return nil
}

// Update stores the campaign when the version matches and bumps the version.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.campaigns[campaign.ID]
	if !exists || existing.TenantID != campaign.TenantID {
		return domain.ErrCampaignNotFound
	}
	if existing.Version != campaign.Version {
		return domain.ErrVersionConflict
	}

	campaign.Version++
	r.campaigns[campaign.ID] = campaign.Clone()
	return nil
}

// Delete removes a campaign and its executions.
func (r *CampaignRepository) Delete(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.campaigns[id]
	if !exists || existing.TenantID != tenantID {
		return domain.ErrCampaignNotFound
	}
	delete(r.campaigns, id)

	if r.executions != nil {
		return r.executions.DeleteByCampaign(ctx, tenantID, id)
	}
	return nil
}

// GetByID retrieves a campaign.
func (r *CampaignRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	campaign, exists := r.campaigns[id]
	if !exists || campaign.TenantID != tenantID {
		return nil, domain.ErrCampaignNotFound
	}
	return campaign.Clone(), nil
}

// List retrieves campaigns matching the filter, newest first.
func (r *CampaignRepository) List(ctx context.Context, filter domain.CampaignFilter) ([]*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*domain.Campaign
	for _, c := range r.campaigns {
		if filter.TenantID != "" && c.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		results = append(results, c.Clone())
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
func (r *CampaignRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.campaigns = make(map[string]*domain.Campaign)
}
