package campaign

import (
	"context"
	"fmt"
	"time"

	"herald-go/internal/jobqueue"
)

// Job names.
const (
	JobStartCampaign = "campaign.start"
	JobDeliver       = "campaign.deliver"
)

// StartPayload starts a scheduled campaign. ScheduledAt identifies the
// schedule the job was created for; a rescheduled campaign ignores it.
type StartPayload struct {
	TenantID    string    `json:"tenantId"`
	CampaignID  string    `json:"campaignId"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// DeliverPayload sends one execution.
type DeliverPayload struct {
	TenantID    string `json:"tenantId"`
	CampaignID  string `json:"campaignId"`
	ExecutionID string `json:"executionId"`
}

// Handle dispatches campaign jobs. It is the jobqueue.Handler run by the
// workers.
func (s *Service) Handle(ctx context.Context, job *jobqueue.Job) error {
	switch job.Name {
	case JobStartCampaign:
		var p StartPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		return s.StartExecution(ctx, p)

	case JobDeliver:
		var p DeliverPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		return s.Deliver(ctx, p)

	default:
		return fmt.Errorf("unknown job %q", job.Name)
	}
}
