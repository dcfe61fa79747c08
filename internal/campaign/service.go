// Package campaign runs outbound messaging campaigns.
//
// A campaign moves DRAFT -> SCHEDULED -> RUNNING -> COMPLETED, with PAUSED
// and CANCELLED branches. Starting and per-recipient delivery run as jobs on
// the delayed job queue. Jobs are never revoked: every job re-reads the
// campaign and its execution when it runs and does nothing, or fails the
// execution, if the state moved on since it was enqueued.
package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"herald-go/internal/channel"
	"herald-go/internal/domain"
	"herald-go/internal/jobqueue"
	"herald-go/internal/metrics"
	"herald-go/internal/store"
)

const (
	// lockTTL bounds how long a crashed worker can hold a campaign.
	lockTTL = time.Minute

	// scheduleGrace is how far in the past a requested start time may be.
	scheduleGrace = time.Minute

	// resumePageSize is the page size used when re-enqueueing pending executions.
	resumePageSize = 500
)

// Service manages campaigns and their executions.
type Service struct {
	campaigns  store.CampaignRepository
	executions store.ExecutionRepository
	contacts   store.ContactRepository
	resolver   *Resolver
	jobs       jobqueue.Queue
	sender     channel.Sender
	locker     store.Locker
	logger     *slog.Logger

	now   func() time.Time
	newID func() string
	draw  DrawFunc
}

// NewService creates a new campaign service.
func NewService(
	campaigns store.CampaignRepository,
	executions store.ExecutionRepository,
	contacts store.ContactRepository,
	members MemberSource,
	jobs jobqueue.Queue,
	sender channel.Sender,
	locker store.Locker,
	logger *slog.Logger,
) *Service {
	return &Service{
		campaigns:  campaigns,
		executions: executions,
		contacts:   contacts,
		resolver:   NewResolver(members, logger),
		jobs:       jobs,
		sender:     sender,
		locker:     locker,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		draw:       RandomDraw,
	}
}

// SetDraw replaces the variant draw function.
func (s *Service) SetDraw(draw DrawFunc) {
	s.draw = draw
}

// SetClock replaces the clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// withLock runs fn while holding the campaign lock. The locker refreshes
// the lock while fn runs, so a fan-out longer than lockTTL keeps it.
func (s *Service) withLock(ctx context.Context, campaignID string, fn func() error) error {
	release, err := s.locker.Acquire(ctx, store.CampaignLockKey(campaignID), lockTTL)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Create stores a new DRAFT campaign.
func (s *Service) Create(ctx context.Context, tenantID string, req *domain.CampaignRequest) (*domain.Campaign, error) {
	if tenantID == "" {
		return nil, domain.ErrEmptyTenantID
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c := req.ToCampaign(s.newID(), tenantID, s.newID)
	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		"tenant_id", tenantID,
		"campaign_id", c.ID,
		"channel", c.Channel,
	)
	return c, nil
}

// Update replaces the definition of a campaign that is not running or finished.
func (s *Service) Update(ctx context.Context, tenantID, id string, req *domain.CampaignRequest) (*domain.Campaign, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *domain.Campaign
	err := s.withLock(ctx, id, func() error {
		c, err := s.campaigns.GetByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := c.CheckEditable(); err != nil {
			return err
		}

		req.ApplyTo(c, s.newID)
		if err := s.campaigns.Update(ctx, c); err != nil {
			return fmt.Errorf("failed to update campaign: %w", err)
		}
		out = c
		return nil
	})
	return out, err
}

// Delete removes a campaign and its executions. Running campaigns must be
// paused or cancelled first.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	return s.withLock(ctx, id, func() error {
		c, err := s.campaigns.GetByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if c.Status == domain.CampaignRunning {
			return domain.ErrCampaignRunning
		}
		if err := s.campaigns.Delete(ctx, tenantID, id); err != nil {
			return err
		}
		s.logger.Info("campaign deleted", "tenant_id", tenantID, "campaign_id", id)
		return nil
	})
}

// Get retrieves a campaign.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.campaigns.GetByID(ctx, tenantID, id)
}

// List retrieves the tenant's campaigns.
func (s *Service) List(ctx context.Context, filter domain.CampaignFilter) ([]*domain.Campaign, error) {
	if filter.TenantID == "" {
		return nil, domain.ErrEmptyTenantID
	}
	return s.campaigns.List(ctx, filter)
}

// ListExecutions returns a page of a campaign's executions and the total count.
func (s *Service) ListExecutions(ctx context.Context, filter domain.ExecutionFilter) ([]*domain.CampaignExecution, int, error) {
	if _, err := s.campaigns.GetByID(ctx, filter.TenantID, filter.CampaignID); err != nil {
		return nil, 0, err
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, domain.ErrInvalidExecutionStatus
	}
	return s.executions.List(ctx, filter)
}

// Schedule moves a DRAFT, PAUSED or SCHEDULED campaign to SCHEDULED and
// enqueues its start job. A nil at means now.
func (s *Service) Schedule(ctx context.Context, tenantID, id string, at *time.Time) (*domain.Campaign, error) {
	now := s.now()
	runAt := now
	if at != nil {
		if at.Before(now.Add(-scheduleGrace)) {
			return nil, domain.ErrScheduleInPast
		}
		runAt = at.UTC()
	}
	// Postgres keeps microseconds; the start job compares against the stored value.
	runAt = runAt.Truncate(time.Microsecond)

	var out *domain.Campaign
	err := s.withLock(ctx, id, func() error {
		c, err := s.campaigns.GetByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if c.Targeting.IsEmpty() {
			return domain.ErrNoTargeting
		}

		from := c.Status
		if err := c.TransitionTo(domain.CampaignScheduled, now); err != nil {
			return err
		}
		c.ScheduledAt = &runAt

		if err := s.campaigns.Update(ctx, c); err != nil {
			return fmt.Errorf("failed to schedule campaign: %w", err)
		}
		metrics.CampaignTransitionsTotal.WithLabelValues(string(from), string(c.Status)).Inc()

		payload := StartPayload{TenantID: tenantID, CampaignID: id, ScheduledAt: runAt}
		if err := s.jobs.Enqueue(ctx, JobStartCampaign, payload, runAt.Sub(now)); err != nil {
			return fmt.Errorf("failed to enqueue campaign start: %w", err)
		}

		s.logger.Info("campaign scheduled",
			"tenant_id", tenantID,
			"campaign_id", id,
			"scheduled_at", runAt,
		)
		out = c
		return nil
	})
	return out, err
}

// StartExecution fans a SCHEDULED campaign out into executions and delivery
// jobs. A job for a campaign that is no longer SCHEDULED for the same time
// does nothing. A repeated job for a campaign it already started finishes
// any fan-out the first attempt left incomplete.
func (s *Service) StartExecution(ctx context.Context, p StartPayload) error {
	return s.withLock(ctx, p.CampaignID, func() error {
		c, err := s.campaigns.GetByID(ctx, p.TenantID, p.CampaignID)
		if err != nil {
			return err
		}

		sameRun := c.ScheduledAt != nil && c.ScheduledAt.Equal(p.ScheduledAt)
		resuming := c.Status == domain.CampaignRunning && sameRun
		if !resuming && (c.Status != domain.CampaignScheduled || !sameRun) {
			s.logger.Info("skipping stale campaign start",
				"campaign_id", c.ID,
				"status", c.Status,
				"job_scheduled_at", p.ScheduledAt,
			)
			return nil
		}

		recipients, err := s.resolver.ResolveRecipients(ctx, c)
		if err != nil {
			return fmt.Errorf("failed to resolve recipients: %w", err)
		}

		if !resuming {
			if err := s.transition(ctx, c, domain.CampaignRunning); err != nil {
				return err
			}
		}

		for i, contactID := range recipients {
			if err := s.startRecipient(ctx, c, contactID, i); err != nil {
				return err
			}
		}

		s.logger.Info("campaign started",
			"tenant_id", c.TenantID,
			"campaign_id", c.ID,
			"recipients", len(recipients),
		)

		return s.refreshStats(ctx, c, len(recipients) == 0)
	})
}

// startRecipient creates the execution for one recipient if needed and
// enqueues its delivery while it is still pending.
func (s *Service) startRecipient(ctx context.Context, c *domain.Campaign, contactID string, index int) error {
	variantID := ""
	if c.IsABTest {
		variantID = SelectVariant(c.Variants, s.draw())
	}

	exec, created, err := s.executions.CreateIfAbsent(ctx, domain.NewExecution(s.newID(), c, contactID, variantID))
	if err != nil {
		return fmt.Errorf("failed to create execution for %s: %w", contactID, err)
	}
	if created {
		metrics.ExecutionsCreatedTotal.WithLabelValues(string(c.Channel)).Inc()
	}
	if exec.Status != domain.ExecutionPending {
		return nil
	}

	payload := DeliverPayload{TenantID: c.TenantID, CampaignID: c.ID, ExecutionID: exec.ID}
	if err := s.jobs.Enqueue(ctx, JobDeliver, payload, DelayForIndex(c.Throttle, index)); err != nil {
		return fmt.Errorf("failed to enqueue delivery for %s: %w", contactID, err)
	}
	return nil
}

// Deliver sends one execution. Delivery problems are recorded on the
// execution and do not fail the job. A queued execution belongs to an
// attempt that stopped before recording its outcome; the send is retried,
// so a message may reach the provider twice but the execution never stays
// outstanding.
func (s *Service) Deliver(ctx context.Context, p DeliverPayload) error {
	release, err := s.locker.Acquire(ctx, store.ExecutionLockKey(p.ExecutionID), lockTTL)
	if err != nil {
		return err
	}
	defer release()

	exec, err := s.executions.GetByID(ctx, p.TenantID, p.ExecutionID)
	if err != nil {
		if domain.IsNotFound(err) {
			s.logger.Info("skipping delivery for removed execution", "execution_id", p.ExecutionID)
			return nil
		}
		return err
	}
	switch exec.Status {
	case domain.ExecutionPending:
	case domain.ExecutionQueued:
		s.logger.Info("resuming interrupted delivery",
			"campaign_id", exec.CampaignID,
			"execution_id", exec.ID,
		)
	default:
		return nil
	}

	c, err := s.campaigns.GetByID(ctx, p.TenantID, exec.CampaignID)
	if err != nil {
		return err
	}

	if c.Status != domain.CampaignRunning {
		metrics.DeliveriesTotal.WithLabelValues(string(exec.Channel), "skipped").Inc()
		return s.fail(ctx, exec, domain.CampaignNotRunningReason)
	}

	if exec.Status == domain.ExecutionPending {
		if err := exec.Advance(domain.ExecutionQueued, s.now()); err != nil {
			return err
		}
		if err := s.executions.Update(ctx, exec); err != nil {
			return fmt.Errorf("failed to queue execution: %w", err)
		}
	}

	contact, err := s.contacts.GetByID(ctx, exec.TenantID, exec.ContactID)
	if err != nil {
		if domain.IsNotFound(err) {
			metrics.DeliveriesTotal.WithLabelValues(string(exec.Channel), "failed").Inc()
			return s.fail(ctx, exec, "Contact not found")
		}
		return err
	}

	msg := &channel.Message{
		TenantID:    exec.TenantID,
		CampaignID:  c.ID,
		ExecutionID: exec.ID,
		Channel:     c.Channel,
		To:          contact.AddressFor(c.Channel),
		Content:     Render(c.ContentFor(exec.VariantID), contact),
	}
	if msg.To == "" {
		metrics.DeliveriesTotal.WithLabelValues(string(exec.Channel), "failed").Inc()
		return s.fail(ctx, exec, fmt.Sprintf("%s %s", channel.ErrNoRecipientAddress, c.Channel))
	}

	externalID, err := s.sender.Send(ctx, msg)
	if err != nil {
		s.logger.Warn("delivery failed",
			"campaign_id", c.ID,
			"execution_id", exec.ID,
			"channel", c.Channel,
			"error", err,
		)
		metrics.DeliveriesTotal.WithLabelValues(string(exec.Channel), "failed").Inc()
		return s.fail(ctx, exec, err.Error())
	}

	if err := exec.MarkSent(externalID, s.now()); err != nil {
		return err
	}
	if err := s.executions.Update(ctx, exec); err != nil {
		return fmt.Errorf("failed to record sent execution: %w", err)
	}

	metrics.DeliveriesTotal.WithLabelValues(string(exec.Channel), "sent").Inc()
	return nil
}

func (s *Service) fail(ctx context.Context, exec *domain.CampaignExecution, reason string) error {
	if err := exec.Fail(domain.ExecutionFailed, reason, s.now()); err != nil {
		return err
	}
	if err := s.executions.Update(ctx, exec); err != nil {
		return fmt.Errorf("failed to record failed execution: %w", err)
	}
	return nil
}

// Pause stops a RUNNING campaign. Delivery jobs already enqueued fail their
// executions when they run.
func (s *Service) Pause(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.simpleTransition(ctx, tenantID, id, domain.CampaignPaused)
}

// Resume restarts a PAUSED campaign and re-enqueues deliveries for
// executions that are still pending or were left queued.
func (s *Service) Resume(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	var out *domain.Campaign
	err := s.withLock(ctx, id, func() error {
		c, err := s.campaigns.GetByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if c.Status != domain.CampaignPaused {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, c.Status, domain.CampaignRunning)
		}
		if err := s.transition(ctx, c, domain.CampaignRunning); err != nil {
			return err
		}

		index := 0
		for _, status := range []domain.ExecutionStatus{domain.ExecutionQueued, domain.ExecutionPending} {
			for offset := 0; ; offset += resumePageSize {
				page, _, err := s.executions.List(ctx, domain.ExecutionFilter{
					TenantID:   tenantID,
					CampaignID: id,
					Status:     status,
					Limit:      resumePageSize,
					Offset:     offset,
				})
				if err != nil {
					return fmt.Errorf("failed to list %s executions: %w", status, err)
				}
				for _, exec := range page {
					payload := DeliverPayload{TenantID: tenantID, CampaignID: id, ExecutionID: exec.ID}
					if err := s.jobs.Enqueue(ctx, JobDeliver, payload, DelayForIndex(c.Throttle, index)); err != nil {
						return fmt.Errorf("failed to enqueue delivery: %w", err)
					}
					index++
				}
				if len(page) < resumePageSize {
					break
				}
			}
		}

		s.logger.Info("campaign resumed", "campaign_id", id, "requeued", index)
		out = c
		return nil
	})
	return out, err
}

// Cancel stops a campaign for good and recomputes its stats.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	var out *domain.Campaign
	err := s.withLock(ctx, id, func() error {
		c, err := s.campaigns.GetByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, c, domain.CampaignCancelled); err != nil {
			return err
		}
		if err := s.refreshStats(ctx, c, false); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *Service) simpleTransition(ctx context.Context, tenantID, id string, to domain.CampaignStatus) (*domain.Campaign, error) {
	var out *domain.Campaign
	err := s.withLock(ctx, id, func() error {
		c, err := s.campaigns.GetByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, c, to); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// transition changes the status and persists it. Callers hold the lock.
func (s *Service) transition(ctx context.Context, c *domain.Campaign, to domain.CampaignStatus) error {
	from := c.Status
	if err := c.TransitionTo(to, s.now()); err != nil {
		return err
	}
	if err := s.campaigns.Update(ctx, c); err != nil {
		return fmt.Errorf("failed to store campaign status: %w", err)
	}

	metrics.CampaignTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("campaign status changed",
		"campaign_id", c.ID,
		"from", from,
		"to", to,
	)
	return nil
}

// UpdateStats recomputes a campaign's stats from its executions and stores
// them. Repeated calls without new execution changes store nothing new.
func (s *Service) UpdateStats(ctx context.Context, tenantID, id string) (domain.CampaignStats, error) {
	var stats domain.CampaignStats
	err := s.withLock(ctx, id, func() error {
		c, err := s.campaigns.GetByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := s.refreshStats(ctx, c, false); err != nil {
			return err
		}
		stats = c.Stats
		return nil
	})
	return stats, err
}

// refreshStats aggregates the executions into c.Stats and stores c when the
// stats changed. With completeWhenDone a RUNNING campaign with nothing left
// to send is completed. Callers hold the lock.
func (s *Service) refreshStats(ctx context.Context, c *domain.Campaign, completeWhenDone bool) error {
	stats, err := s.executions.Stats(ctx, c.TenantID, c.ID)
	if err != nil {
		return fmt.Errorf("failed to aggregate executions: %w", err)
	}

	if completeWhenDone && c.Status == domain.CampaignRunning && stats.Outstanding() == 0 {
		c.Stats = stats
		return s.transition(ctx, c, domain.CampaignCompleted)
	}

	if stats.Equal(c.Stats) {
		return nil
	}
	c.Stats = stats
	c.UpdatedAt = s.now()
	if err := s.campaigns.Update(ctx, c); err != nil {
		return fmt.Errorf("failed to store campaign stats: %w", err)
	}
	return nil
}

// Sweep refreshes the stats of every RUNNING campaign and completes those
// with no pending or queued executions left.
func (s *Service) Sweep(ctx context.Context) (completed int, err error) {
	running, err := s.campaigns.List(ctx, domain.CampaignFilter{Status: domain.CampaignRunning})
	if err != nil {
		return 0, fmt.Errorf("failed to list running campaigns: %w", err)
	}

	for _, c := range running {
		err := s.withLock(ctx, c.ID, func() error {
			current, err := s.campaigns.GetByID(ctx, c.TenantID, c.ID)
			if err != nil {
				return err
			}
			if current.Status != domain.CampaignRunning {
				return nil
			}
			if err := s.refreshStats(ctx, current, true); err != nil {
				return err
			}
			if current.Status == domain.CampaignCompleted {
				completed++
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return completed, ctx.Err()
			}
			s.logger.Error("failed to sweep campaign", "campaign_id", c.ID, "error", err)
		}
	}
	return completed, nil
}
