package memory

import (
	"context"
	"sort"
	"sync"

	"herald-go/internal/domain"
)

// ExecutionRepository is an in-memory implementation of store.ExecutionRepository.
type ExecutionRepository struct {
	mu sync.RWMutex

	// executions stores all executions by their ID
	executions map[string]*domain.CampaignExecution

	// byRecipient indexes campaignID+contactID -> execution ID
	byRecipient map[string]string

	// byExternalID indexes tenantID+externalMessageID -> execution ID
	byExternalID map[string]string
}

// NewExecutionRepository creates a new in-memory execution repository.
func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{
		executions:   make(map[string]*domain.CampaignExecution),
		byRecipient:  make(map[string]string),
		byExternalID: make(map[string]string),
	}
}

func recipientKey(campaignID, contactID string) string {
	return campaignID + "/" + contactID
}

func externalKey(tenantID, externalID string) string {
	return tenantID + "/" + externalID
}

// CreateIfAbsent stores the execution unless one exists for the same recipient.
func (r *ExecutionRepository) CreateIfAbsent(ctx context.Context, execution *domain.CampaignExecution) (*domain.CampaignExecution, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := recipientKey(execution.CampaignID, execution.ContactID)
	if id, exists := r.byRecipient[key]; exists {
		return r.executions[id].Clone(), false, nil
	}

	r.executions[execution.ID] = execution.Clone()
	r.byRecipient[key] = execution.ID
	if execution.ExternalMessageID != "" {
		r.byExternalID[externalKey(execution.TenantID, execution.ExternalMessageID)] = execution.ID
	}
	return execution.Clone(), true, nil
}

// Update replaces an existing execution.
func (r *ExecutionRepository) Update(ctx context.Context, execution *domain.CampaignExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.executions[execution.ID]
	if !exists || existing.TenantID != execution.TenantID {
		return domain.ErrExecutionNotFound
	}

	if existing.ExternalMessageID != "" && existing.ExternalMessageID != execution.ExternalMessageID {
		delete(r.byExternalID, externalKey(existing.TenantID, existing.ExternalMessageID))
	}
	r.executions[execution.ID] = execution.Clone()
	if execution.ExternalMessageID != "" {
		r.byExternalID[externalKey(execution.TenantID, execution.ExternalMessageID)] = execution.ID
	}
	return nil
}

// GetByID retrieves an execution.
func (r *ExecutionRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.CampaignExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, exists := r.executions[id]
	if !exists || execution.TenantID != tenantID {
		return nil, domain.ErrExecutionNotFound
	}
	return execution.Clone(), nil
}

// GetByExternalID retrieves an execution by channel message ID.
func (r *ExecutionRepository) GetByExternalID(ctx context.Context, tenantID, externalID string) (*domain.CampaignExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byExternalID[externalKey(tenantID, externalID)]
	if !exists {
		return nil, domain.ErrExecutionNotFound
	}
	return r.executions[id].Clone(), nil
}

// List retrieves a page of executions, oldest first, and the total count.
func (r *ExecutionRepository) List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.CampaignExecution, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := r.matching(filter)
	total := len(results)

	page := paginate(results, filter.Offset, filter.Limit)
	out := make([]*domain.CampaignExecution, len(page))
	for i, e := range page {
		out[i] = e.Clone()
	}
	return out, total, nil
}

// Stats aggregates the executions of a campaign.
func (r *ExecutionRepository) Stats(ctx context.Context, tenantID, campaignID string) (domain.CampaignStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return domain.AggregateStats(r.matching(domain.ExecutionFilter{TenantID: tenantID, CampaignID: campaignID})), nil
}

// DeleteByCampaign removes every execution of a campaign.
func (r *ExecutionRepository) DeleteByCampaign(ctx context.Context, tenantID, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.executions {
		if e.CampaignID != campaignID || e.TenantID != tenantID {
			continue
		}
		delete(r.byRecipient, recipientKey(e.CampaignID, e.ContactID))
		if e.ExternalMessageID != "" {
			delete(r.byExternalID, externalKey(e.TenantID, e.ExternalMessageID))
		}
		delete(r.executions, id)
	}
	return nil
}

// matching returns stored executions for the filter in creation order.
// Callers must hold the lock and must not mutate the results.
func (r *ExecutionRepository) matching(filter domain.ExecutionFilter) []*domain.CampaignExecution {
	var results []*domain.CampaignExecution
	for _, e := range r.executions {
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			continue
		}
		if filter.CampaignID != "" && e.CampaignID != filter.CampaignID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		results = append(results, e)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results
}

// Clear removes all data from the repository. Useful for test cleanup.
func (r *ExecutionRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executions = make(map[string]*domain.CampaignExecution)
	r.byRecipient = make(map[string]string)
	r.byExternalID = make(map[string]string)
}
