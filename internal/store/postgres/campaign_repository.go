package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"herald-go/internal/domain"
)

const campaignColumns = `id, tenant_id, name, description, channel, status, content, targeting,
	throttle, is_ab_test, variants, stats, scheduled_at, started_at, completed_at, version,
	created_at, updated_at`

// CampaignRepository implements store.CampaignRepository using PostgreSQL.
// Executions are removed by the ON DELETE CASCADE foreign key.
type CampaignRepository struct {
	db *DB
}

// NewCampaignRepository creates a new PostgreSQL-backed campaign repository.
func NewCampaignRepository(db *DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// campaignDocuments holds the JSONB encodings of a campaign.
type campaignDocuments struct {
	content, targeting, throttle, variants, stats []byte
}

func encodeCampaign(c *domain.Campaign) (*campaignDocuments, error) {
	var docs campaignDocuments
	var err error

	if docs.content, err = jsonValue(c.Content); err != nil {
		return nil, err
	}
	if docs.targeting, err = jsonValue(c.Targeting); err != nil {
		return nil, err
	}
	if docs.throttle, err = jsonValue(c.Throttle); err != nil {
		return nil, err
	}
	variants := c.Variants
	if variants == nil {
		variants = []domain.Variant{}
	}
	if docs.variants, err = jsonValue(variants); err != nil {
		return nil, err
	}
	if docs.stats, err = jsonValue(c.Stats); err != nil {
		return nil, err
	}
	return &docs, nil
}

// Create stores a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	docs, err := encodeCampaign(c)
	if err != nil {
		return err
	}
	if c.Version == 0 {
		c.Version = 1
	}

	query := `
		INSERT INTO campaigns (
			id, tenant_id, name, description, channel, status, content, targeting,
			throttle, is_ab_test, variants, stats, scheduled_at, started_at, completed_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err = r.db.pool.Exec(ctx, query,
		c.ID,
		c.TenantID,
		c.Name,
		nullableString(c.Description),
		string(c.Channel),
		string(c.Status),
		docs.content,
		docs.targeting,
		docs.throttle,
		c.IsABTest,
		docs.variants,
		docs.stats,
		c.ScheduledAt,
		c.StartedAt,
		c.CompletedAt,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// Update stores the campaign if the version matches and increments it.
func (r *CampaignRepository) Update(ctx context.Context, c *domain.Campaign) error {
	docs, err := encodeCampaign(c)
	if err != nil {
		return err
	}

	query := `
		UPDATE campaigns SET
			name = $4,
			description = $5,
			channel = $6,
			status = $7,
			content = $8,
			targeting = $9,
			throttle = $10,
			is_ab_test = $11,
			variants = $12,
			stats = $13,
			scheduled_at = $14,
			started_at = $15,
			completed_at = $16,
			updated_at = $17,
			version = version + 1
		WHERE tenant_id = $1 AND id = $2 AND version = $3
	`

	result, err := r.db.pool.Exec(ctx, query,
		c.TenantID,
		c.ID,
		c.Version,
		c.Name,
		nullableString(c.Description),
		string(c.Channel),
		string(c.Status),
		docs.content,
		docs.targeting,
		docs.throttle,
		c.IsABTest,
		docs.variants,
		docs.stats,
		c.ScheduledAt,
		c.StartedAt,
		c.CompletedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, c.TenantID, c.ID); err != nil {
			return err
		}
		return domain.ErrVersionConflict
	}

	c.Version++
	return nil
}

// Delete removes a campaign and, through the foreign key, its executions.
func (r *CampaignRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM campaigns WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrCampaignNotFound
	}

	return nil
}

// GetByID retrieves a campaign.
func (r *CampaignRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE tenant_id = $1 AND id = $2`

	campaign, err := scanCampaign(r.db.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// List retrieves campaigns matching the filter, newest first.
func (r *CampaignRepository) List(ctx context.Context, filter domain.CampaignFilter) ([]*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argNum)
		args = append(args, filter.TenantID)
		argNum++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filter.Status))
		argNum++
	}

	query += " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaigns: %w", err)
	}

	return campaigns, nil
}

// scanCampaign scans a single row into a Campaign.
func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	var description *string
	var channel, status string
	var docs campaignDocuments

	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Name,
		&description,
		&channel,
		&status,
		&docs.content,
		&docs.targeting,
		&docs.throttle,
		&c.IsABTest,
		&docs.variants,
		&docs.stats,
		&c.ScheduledAt,
		&c.StartedAt,
		&c.CompletedAt,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Description = derefString(description)
	c.Channel = domain.Channel(channel)
	c.Status = domain.CampaignStatus(status)

	for _, doc := range []struct {
		name string
		data []byte
		dst  any
	}{
		{"content", docs.content, &c.Content},
		{"targeting", docs.targeting, &c.Targeting},
		{"throttle", docs.throttle, &c.Throttle},
		{"variants", docs.variants, &c.Variants},
		{"stats", docs.stats, &c.Stats},
	} {
		if err := json.Unmarshal(doc.data, doc.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal campaign %s: %w", doc.name, err)
		}
	}
	if len(c.Variants) == 0 {
		c.Variants = nil
	}

	return &c, nil
}
