package store

import (
	"context"

	"herald-go/internal/domain"
	"herald-go/internal/rules"
)

// ContactRepository defines persistence for contacts and rule evaluation
// against them. Every query is scoped to one tenant.
type ContactRepository interface {
	// Create stores a new contact.
	Create(ctx context.Context, contact *domain.Contact) error

	// Update replaces an existing contact.
	Update(ctx context.Context, contact *domain.Contact) error

	// Delete removes a contact.
	Delete(ctx context.Context, tenantID, id string) error

	// GetByID retrieves a contact.
	GetByID(ctx context.Context, tenantID, id string) (*domain.Contact, error)

	// List retrieves contacts matching the filter, oldest first.
	List(ctx context.Context, filter domain.ContactFilter) ([]*domain.Contact, error)

	// FindMatching returns the IDs of the tenant's contacts selected by the
	// query, ordered by creation time then ID.
	FindMatching(ctx context.Context, tenantID string, q *rules.Query) ([]string, error)

	// CountMatching returns how many of the tenant's contacts the query selects.
	CountMatching(ctx context.Context, tenantID string, q *rules.Query) (int, error)

	// MatchesContact evaluates the query against a single contact.
	// It returns domain.ErrContactNotFound if the contact does not exist.
	MatchesContact(ctx context.Context, tenantID, contactID string, q *rules.Query) (bool, error)
}

// SegmentRepository defines persistence for segments.
type SegmentRepository interface {
	// Create stores a new segment.
	Create(ctx context.Context, segment *domain.Segment) error

	// Update stores the segment if its Version matches the stored one and
	// increments Version. It returns domain.ErrVersionConflict otherwise.
	Update(ctx context.Context, segment *domain.Segment) error

	// Delete removes a segment.
	Delete(ctx context.Context, tenantID, id string) error

	// GetByID retrieves a segment.
	GetByID(ctx context.Context, tenantID, id string) (*domain.Segment, error)

	// List retrieves segments matching the filter.
	List(ctx context.Context, filter domain.SegmentFilter) ([]*domain.Segment, error)
}

// CampaignRepository defines persistence for campaigns.
type CampaignRepository interface {
	// Create stores a new campaign.
	Create(ctx context.Context, campaign *domain.Campaign) error

	// Update stores the campaign if its Version matches the stored one and
	// increments Version. It returns domain.ErrVersionConflict otherwise.
	Update(ctx context.Context, campaign *domain.Campaign) error

	// Delete removes a campaign. Executions are removed with it.
	Delete(ctx context.Context, tenantID, id string) error

	// GetByID retrieves a campaign.
	GetByID(ctx context.Context, tenantID, id string) (*domain.Campaign, error)

	// List retrieves campaigns matching the filter. An empty TenantID lists
	// across tenants.
	List(ctx context.Context, filter domain.CampaignFilter) ([]*domain.Campaign, error)
}

// ExecutionRepository defines persistence for per-recipient executions.
// There is at most one execution per (campaign, contact).
type ExecutionRepository interface {
	// CreateIfAbsent stores the execution unless one already exists for the
	// same campaign and contact, in which case the existing one is returned
	// and created is false.
	CreateIfAbsent(ctx context.Context, execution *domain.CampaignExecution) (stored *domain.CampaignExecution, created bool, err error)

	// Update replaces an existing execution.
	Update(ctx context.Context, execution *domain.CampaignExecution) error

	// GetByID retrieves an execution.
	GetByID(ctx context.Context, tenantID, id string) (*domain.CampaignExecution, error)

	// GetByExternalID retrieves an execution by the channel message ID.
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*domain.CampaignExecution, error)

	// List retrieves a page of executions and the total number matching the filter.
	List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.CampaignExecution, int, error)

	// Stats aggregates the executions of a campaign.
	Stats(ctx context.Context, tenantID, campaignID string) (domain.CampaignStats, error)

	// DeleteByCampaign removes every execution of a campaign.
	DeleteByCampaign(ctx context.Context, tenantID, campaignID string) error
}
