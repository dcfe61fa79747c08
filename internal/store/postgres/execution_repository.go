package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"herald-go/internal/domain"
)

const executionColumns = `id, tenant_id, campaign_id, contact_id, variant_id, channel, status,
	external_message_id, error_message, queued_at, sent_at, delivered_at, opened_at, clicked_at,
	replied_at, failed_at, converted_at, conversion_value::text, created_at, updated_at`

// ExecutionRepository implements store.ExecutionRepository using PostgreSQL.
type ExecutionRepository struct {
	db *DB
}

// NewExecutionRepository creates a new PostgreSQL-backed execution repository.
func NewExecutionRepository(db *DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// CreateIfAbsent inserts the execution unless the (campaign, contact) pair
// already has one, in which case the stored row is returned.
func (r *ExecutionRepository) CreateIfAbsent(ctx context.Context, e *domain.CampaignExecution) (*domain.CampaignExecution, bool, error) {
	query := `
		INSERT INTO campaign_executions (
			id, tenant_id, campaign_id, contact_id, variant_id, channel, status,
			external_message_id, error_message, queued_at, sent_at, delivered_at, opened_at,
			clicked_at, replied_at, failed_at, converted_at, conversion_value, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18::text::numeric, $19, $20)
		ON CONFLICT (campaign_id, contact_id) DO NOTHING
	`

	result, err := r.db.pool.Exec(ctx, query,
		e.ID,
		e.TenantID,
		e.CampaignID,
		e.ContactID,
		nullableString(e.VariantID),
		string(e.Channel),
		string(e.Status),
		nullableString(e.ExternalMessageID),
		nullableString(e.ErrorMessage),
		e.QueuedAt,
		e.SentAt,
		e.DeliveredAt,
		e.OpenedAt,
		e.ClickedAt,
		e.RepliedAt,
		e.FailedAt,
		e.ConvertedAt,
		decimalText(e.ConversionValue),
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create execution: %w", err)
	}

	if result.RowsAffected() == 1 {
		return e.Clone(), true, nil
	}

	existing, err := scanExecution(r.db.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM campaign_executions WHERE campaign_id = $1 AND contact_id = $2`,
		e.CampaignID, e.ContactID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing execution: %w", err)
	}

	return existing, false, nil
}

// Update replaces an existing execution.
func (r *ExecutionRepository) Update(ctx context.Context, e *domain.CampaignExecution) error {
	query := `
		UPDATE campaign_executions SET
			variant_id = $3,
			status = $4,
			external_message_id = $5,
			error_message = $6,
			queued_at = $7,
			sent_at = $8,
			delivered_at = $9,
			opened_at = $10,
			clicked_at = $11,
			replied_at = $12,
			failed_at = $13,
			converted_at = $14,
			conversion_value = $15::text::numeric,
			updated_at = $16
		WHERE tenant_id = $1 AND id = $2
	`

	result, err := r.db.pool.Exec(ctx, query,
		e.TenantID,
		e.ID,
		nullableString(e.VariantID),
		string(e.Status),
		nullableString(e.ExternalMessageID),
		nullableString(e.ErrorMessage),
		e.QueuedAt,
		e.SentAt,
		e.DeliveredAt,
		e.OpenedAt,
		e.ClickedAt,
		e.RepliedAt,
		e.FailedAt,
		e.ConvertedAt,
		decimalText(e.ConversionValue),
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrExecutionNotFound
	}

	return nil
}

// GetByID retrieves an execution.
func (r *ExecutionRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.CampaignExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM campaign_executions WHERE tenant_id = $1 AND id = $2`
	return r.getOne(ctx, query, tenantID, id)
}

// GetByExternalID retrieves an execution by the channel message ID.
func (r *ExecutionRepository) GetByExternalID(ctx context.Context, tenantID, externalID string) (*domain.CampaignExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM campaign_executions
		WHERE tenant_id = $1 AND external_message_id = $2
		ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, query, tenantID, externalID)
}

func (r *ExecutionRepository) getOne(ctx context.Context, query string, args ...any) (*domain.CampaignExecution, error) {
	execution, err := scanExecution(r.db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return execution, nil
}

// List retrieves a page of executions, oldest first, and the total count.
func (r *ExecutionRepository) List(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.CampaignExecution, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.TenantID != "" {
		where += fmt.Sprintf(" AND tenant_id = $%d", argNum)
		args = append(args, filter.TenantID)
		argNum++
	}

	if filter.CampaignID != "" {
		where += fmt.Sprintf(" AND campaign_id = $%d", argNum)
		args = append(args, filter.CampaignID)
		argNum++
	}

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filter.Status))
		argNum++
	}

	var total int
	if err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM campaign_executions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	query := `SELECT ` + executionColumns + ` FROM campaign_executions` + where + ` ORDER BY created_at, id`

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
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*domain.CampaignExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, total, nil
}

// Stats aggregates the executions of a campaign in a single query.
func (r *ExecutionRepository) Stats(ctx context.Context, tenantID, campaignID string) (domain.CampaignStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE sent_at IS NOT NULL),
			COUNT(*) FILTER (WHERE delivered_at IS NOT NULL),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'bounced'),
			COUNT(*) FILTER (WHERE opened_at IS NOT NULL),
			COUNT(*) FILTER (WHERE clicked_at IS NOT NULL),
			COUNT(*) FILTER (WHERE replied_at IS NOT NULL),
			COUNT(*) FILTER (WHERE converted_at IS NOT NULL),
			COALESCE(SUM(conversion_value) FILTER (WHERE converted_at IS NOT NULL), 0)::text,
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'queued')
		FROM campaign_executions
		WHERE tenant_id = $1 AND campaign_id = $2
	`

	var s domain.CampaignStats
	var value string
	err := r.db.pool.QueryRow(ctx, query, tenantID, campaignID).Scan(
		&s.Targeted,
		&s.Sent,
		&s.Delivered,
		&s.Failed,
		&s.Bounced,
		&s.Opened,
		&s.Clicked,
		&s.Replied,
		&s.Converted,
		&value,
		&s.Pending,
		&s.Queued,
	)
	if err != nil {
		return domain.CampaignStats{}, fmt.Errorf("failed to aggregate executions: %w", err)
	}

	if s.ConversionValue, err = decimal.NewFromString(value); err != nil {
		return domain.CampaignStats{}, fmt.Errorf("failed to parse conversion value: %w", err)
	}

	return s, nil
}

// DeleteByCampaign removes every execution of a campaign.
func (r *ExecutionRepository) DeleteByCampaign(ctx context.Context, tenantID, campaignID string) error {
	_, err := r.db.pool.Exec(ctx,
		`DELETE FROM campaign_executions WHERE tenant_id = $1 AND campaign_id = $2`,
		tenantID, campaignID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}
	return nil
}

// scanExecution scans a single row into a CampaignExecution.
func scanExecution(row pgx.Row) (*domain.CampaignExecution, error) {
	var e domain.CampaignExecution
	var variantID, externalID, errorMessage, conversionValue *string
	var channel, status string

	err := row.Scan(
		&e.ID,
		&e.TenantID,
		&e.CampaignID,
		&e.ContactID,
		&variantID,
		&channel,
		&status,
		&externalID,
		&errorMessage,
		&e.QueuedAt,
		&e.SentAt,
		&e.DeliveredAt,
		&e.OpenedAt,
		&e.ClickedAt,
		&e.RepliedAt,
		&e.FailedAt,
		&e.ConvertedAt,
		&conversionValue,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.VariantID = derefString(variantID)
	e.Channel = domain.Channel(channel)
	e.Status = domain.ExecutionStatus(status)
	e.ExternalMessageID = derefString(externalID)
	e.ErrorMessage = derefString(errorMessage)

	if conversionValue != nil {
		v, err := decimal.NewFromString(*conversionValue)
		if err != nil {
			return nil, fmt.Errorf("failed to parse conversion value: %w", err)
		}
		e.ConversionValue = &v
	}

	return &e, nil
}

// decimalText renders a decimal for a numeric cast, or nil for NULL.
func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
