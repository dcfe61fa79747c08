package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"herald-go/internal/domain"
)

const segmentColumns = `id, tenant_id, name, description, type, rules, contact_ids, contact_count,
	last_calculated_at, is_system, version, created_at, updated_at`

// SegmentRepository implements store.SegmentRepository using PostgreSQL.
type SegmentRepository struct {
	db *DB
}

// NewSegmentRepository creates a new PostgreSQL-backed segment repository.
func NewSegmentRepository(db *DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

// Create stores a new segment.
func (r *SegmentRepository) Create(ctx context.Context, s *domain.Segment) error {
	rules, err := jsonValue(s.Rules)
	if err != nil {
		return err
	}
	if s.Version == 0 {
		s.Version = 1
	}

	query := `
		INSERT INTO segments (
			id, tenant_id, name, description, type, rules, contact_ids, contact_count,
			last_calculated_at, is_system, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.pool.Exec(ctx, query,
		s.ID,
		s.TenantID,
		s.Name,
		nullableString(s.Description),
		string(s.Type),
		rules,
		tagsOrEmpty(s.ContactIDs),
		s.ContactCount,
		s.LastCalculatedAt,
		s.IsSystem,
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}

	return nil
}

// Update stores the segment if the version matches and increments it.
func (r *SegmentRepository) Update(ctx context.Context, s *domain.Segment) error {
	rules, err := jsonValue(s.Rules)
	if err != nil {
		return err
	}

	query := `
		UPDATE segments SET
			name = $4,
			description = $5,
			type = $6,
			rules = $7,
			contact_ids = $8,
			contact_count = $9,
			last_calculated_at = $10,
			updated_at = $11,
			version = version + 1
		WHERE tenant_id = $1 AND id = $2 AND version = $3
	`

	result, err := r.db.pool.Exec(ctx, query,
		s.TenantID,
		s.ID,
		s.Version,
		s.Name,
		nullableString(s.Description),
		string(s.Type),
		rules,
		tagsOrEmpty(s.ContactIDs),
		s.ContactCount,
		s.LastCalculatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update segment: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, s.TenantID, s.ID); err != nil {
			return err
		}
		return domain.ErrVersionConflict
	}

	s.Version++
	return nil
}

// Delete removes a segment.
func (r *SegmentRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM segments WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrSegmentNotFound
	}

	return nil
}

// GetByID retrieves a segment.
func (r *SegmentRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments WHERE tenant_id = $1 AND id = $2`

	segment, err := scanSegment(r.db.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSegmentNotFound
		}
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}

	return segment, nil
}

// List retrieves segments matching the filter, newest first.
func (r *SegmentRepository) List(ctx context.Context, filter domain.SegmentFilter) ([]*domain.Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argNum)
		args = append(args, filter.TenantID)
		argNum++
	}

	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, string(filter.Type))
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
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []*domain.Segment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return segments, nil
}

// scanSegment scans a single row into a Segment.
func scanSegment(row pgx.Row) (*domain.Segment, error) {
	var s domain.Segment
	var description *string
	var segmentType string
	var rules []byte

	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.Name,
		&description,
		&segmentType,
		&rules,
		&s.ContactIDs,
		&s.ContactCount,
		&s.LastCalculatedAt,
		&s.IsSystem,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Description = derefString(description)
	s.Type = domain.SegmentType(segmentType)
	if len(s.ContactIDs) == 0 {
		s.ContactIDs = nil
	}

	if err := json.Unmarshal(rules, &s.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segment rules: %w", err)
	}

	return &s, nil
}
