package campaign

import (
	"context"
	"errors"
	"log/slog"

	"herald-go/internal/domain"
)

// MemberSource returns the contact IDs of a segment.
type MemberSource interface {
	GetMembers(ctx context.Context, tenantID, segmentID string) ([]string, error)
}

// Resolver turns campaign targeting into a recipient list.
type Resolver struct {
	members MemberSource
	logger  *slog.Logger
}

// NewResolver creates a resolver over a segment member source.
func NewResolver(members MemberSource, logger *slog.Logger) *Resolver {
	return &Resolver{members: members, logger: logger}
}

// ResolveRecipients returns the deduplicated recipients of c in first-seen
// order: members of the included segments, then explicit contacts, minus
// members of the excluded segments and the excluded contacts. A segment that
// no longer exists contributes nothing.
func (r *Resolver) ResolveRecipients(ctx context.Context, c *domain.Campaign) ([]string, error) {
	seen := make(map[string]struct{})
	var ordered []string
	add := func(ids []string) {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ordered = append(ordered, id)
		}
	}

	for _, segmentID := range c.Targeting.SegmentIDs {
		ids, err := r.segmentMembers(ctx, c, segmentID)
		if err != nil {
			return nil, err
		}
		add(ids)
	}
	add(c.Targeting.ContactIDs)

	excluded := make(map[string]struct{})
	for _, segmentID := range c.Targeting.ExcludeSegmentIDs {
		ids, err := r.segmentMembers(ctx, c, segmentID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			excluded[id] = struct{}{}
		}
	}
	for _, id := range c.Targeting.ExcludeContactIDs {
		excluded[id] = struct{}{}
	}

	recipients := make([]string, 0, len(ordered))
	for _, id := range ordered {
		if _, skip := excluded[id]; !skip {
			recipients = append(recipients, id)
		}
	}
	return recipients, nil
}

func (r *Resolver) segmentMembers(ctx context.Context, c *domain.Campaign, segmentID string) ([]string, error) {
	ids, err := r.members.GetMembers(ctx, c.TenantID, segmentID)
	if errors.Is(err, domain.ErrSegmentNotFound) {
		r.logger.Warn("targeted segment no longer exists",
			"campaign_id", c.ID,
			"segment_id", segmentID,
		)
		return nil, nil
	}
	return ids, err
}
