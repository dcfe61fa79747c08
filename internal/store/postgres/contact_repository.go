package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"herald-go/internal/domain"
	"herald-go/internal/metrics"
	"herald-go/internal/rules"
)

const contactColumns = `id, tenant_id, name, email, phone, instagram_id, tags, lifecycle_stage,
	source, custom_fields, ecommerce_data, created_at, updated_at, last_contacted_at`

// ContactRepository implements store.ContactRepository using PostgreSQL.
// Rule queries run as compiled WHERE fragments.
type ContactRepository struct {
	db *DB
}

// NewContactRepository creates a new PostgreSQL-backed contact repository.
func NewContactRepository(db *DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Create stores a new contact.
func (r *ContactRepository) Create(ctx context.Context, c *domain.Contact) error {
	customFields, ecommerce, err := contactJSON(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO contacts (
			id, tenant_id, name, email, phone, instagram_id, tags, lifecycle_stage,
			source, custom_fields, ecommerce_data, created_at, updated_at, last_contacted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.pool.Exec(ctx, query,
		c.ID,
		c.TenantID,
		c.Name,
		c.Email,
		c.Phone,
		c.InstagramID,
		tagsOrEmpty(c.Tags),
		c.LifecycleStage,
		c.Source,
		customFields,
		ecommerce,
		c.CreatedAt,
		c.UpdatedAt,
		c.LastContactedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	return nil
}

// Update replaces an existing contact.
func (r *ContactRepository) Update(ctx context.Context, c *domain.Contact) error {
	customFields, ecommerce, err := contactJSON(c)
	if err != nil {
		return err
	}

	query := `
		UPDATE contacts SET
			name = $3,
			email = $4,
			phone = $5,
			instagram_id = $6,
			tags = $7,
			lifecycle_stage = $8,
			source = $9,
			custom_fields = $10,
			ecommerce_data = $11,
			updated_at = $12,
			last_contacted_at = $13
		WHERE tenant_id = $1 AND id = $2
	`

	result, err := r.db.pool.Exec(ctx, query,
		c.TenantID,
		c.ID,
		c.Name,
		c.Email,
		c.Phone,
		c.InstagramID,
		tagsOrEmpty(c.Tags),
		c.LifecycleStage,
		c.Source,
		customFields,
		ecommerce,
		c.UpdatedAt,
		c.LastContactedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrContactNotFound
	}

	return nil
}

// Delete removes a contact.
func (r *ContactRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM contacts WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrContactNotFound
	}

	return nil
}

// GetByID retrieves a contact.
func (r *ContactRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 AND id = $2`

	contact, err := scanContact(r.db.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrContactNotFound
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return contact, nil
}

// List retrieves contacts matching the filter, oldest first.
func (r *ContactRepository) List(ctx context.Context, filter domain.ContactFilter) ([]*domain.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1`
	args := []interface{}{filter.TenantID}
	argNum := 2

	if filter.Tag != "" {
		query += fmt.Sprintf(" AND $%d = ANY(tags)", argNum)
		args = append(args, filter.Tag)
		argNum++
	}

	query += " ORDER BY created_at, id"

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
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}

	return contacts, nil
}

// FindMatching returns the IDs of matching contacts ordered by creation time.
func (r *ContactRepository) FindMatching(ctx context.Context, tenantID string, q *rules.Query) (ids []string, err error) {
	defer func(start time.Time) { metrics.ObserveStorage("postgres", "find_matching", start, err) }(time.Now())

	where, args := q.SQL(2)
	query := `SELECT id FROM contacts WHERE tenant_id = $1 AND ` + where + ` ORDER BY created_at, id`

	rows, err := r.db.pool.Query(ctx, query, append([]any{tenantID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to find matching contacts: %w", err)
	}

	ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan matching contacts: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}

	return ids, nil
}

// CountMatching returns the number of matching contacts.
func (r *ContactRepository) CountMatching(ctx context.Context, tenantID string, q *rules.Query) (count int, err error) {
	defer func(start time.Time) { metrics.ObserveStorage("postgres", "count_matching", start, err) }(time.Now())

	where, args := q.SQL(2)
	query := `SELECT COUNT(*) FROM contacts WHERE tenant_id = $1 AND ` + where

	if err := r.db.pool.QueryRow(ctx, query, append([]any{tenantID}, args...)...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count matching contacts: %w", err)
	}

	return count, nil
}

// MatchesContact evaluates the query against one contact.
func (r *ContactRepository) MatchesContact(ctx context.Context, tenantID, contactID string, q *rules.Query) (bool, error) {
	where, args := q.SQL(3)
	query := `SELECT ` + where + ` FROM contacts WHERE tenant_id = $1 AND id = $2`

	var matches bool
	err := r.db.pool.QueryRow(ctx, query, append([]any{tenantID, contactID}, args...)...).Scan(&matches)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrContactNotFound
		}
		return false, fmt.Errorf("failed to evaluate contact: %w", err)
	}

	return matches, nil
}

// scanContact scans a single row into a Contact.
func scanContact(row pgx.Row) (*domain.Contact, error) {
	var c domain.Contact
	var email, phone, instagramID, lifecycle, source *string
	var customFields, ecommerce []byte

	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Name,
		&email,
		&phone,
		&instagramID,
		&c.Tags,
		&lifecycle,
		&source,
		&customFields,
		&ecommerce,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.LastContactedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Email = derefString(email)
	c.Phone = derefString(phone)
	c.InstagramID = derefString(instagramID)
	c.LifecycleStage = derefString(lifecycle)
	c.Source = derefString(source)

	if customFields != nil {
		if err := json.Unmarshal(customFields, &c.CustomFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal custom fields: %w", err)
		}
	}
	if ecommerce != nil {
		c.EcommerceData = &domain.EcommerceData{}
		if err := json.Unmarshal(ecommerce, c.EcommerceData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ecommerce data: %w", err)
		}
	}

	return &c, nil
}

// contactJSON encodes the JSONB columns. Nil values become SQL NULL.
func contactJSON(c *domain.Contact) (customFields, ecommerce []byte, err error) {
	if c.CustomFields != nil {
		if customFields, err = jsonValue(c.CustomFields); err != nil {
			return nil, nil, err
		}
	}
	if c.EcommerceData != nil {
		if ecommerce, err = jsonValue(c.EcommerceData); err != nil {
			return nil, nil, err
		}
	}
	return customFields, ecommerce, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
