package campaign

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"herald-go/internal/channel"
	"herald-go/internal/domain"
	"herald-go/internal/jobqueue"
	jobmem "herald-go/internal/jobqueue/memory"
	storemem "herald-go/internal/store/memory"
)

const tenant = "tenant-1"

// recordingQueue keeps enqueued jobs so tests can run them one by one.
type recordingQueue struct {
	mu     sync.Mutex
	jobs   []*jobqueue.Job
	delays []time.Duration
}

func (q *recordingQueue) Enqueue(ctx context.Context, name string, payload any, delay time.Duration) error {
	job, err := jobqueue.NewJob(name, payload, delay)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.delays = append(q.delays, delay)
	return nil
}

func (q *recordingQueue) Start(ctx context.Context, handler jobqueue.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) take() []*jobqueue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

// recordingSender accepts every message except those sent to failFor.
type recordingSender struct {
	mu      sync.Mutex
	sent    []*channel.Message
	failFor string
}

func (s *recordingSender) Send(ctx context.Context, msg *channel.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.To == s.failFor {
		return "", errors.New("provider rejected recipient")
	}
	s.sent = append(s.sent, msg)
	return "ext-" + msg.ExecutionID, nil
}

func (s *recordingSender) messages() []*channel.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*channel.Message(nil), s.sent...)
}

type fixture struct {
	service    *Service
	queue      *recordingQueue
	sender     *recordingSender
	contacts   *storemem.ContactRepository
	campaigns  *storemem.CampaignRepository
	executions *storemem.ExecutionRepository
	members    staticMembers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:      &recordingQueue{},
		sender:     &recordingSender{},
		contacts:   storemem.NewContactRepository(),
		executions: storemem.NewExecutionRepository(),
		members:    staticMembers{},
	}
	f.campaigns = storemem.NewCampaignRepository(f.executions)
	f.service = NewService(f.campaigns, f.executions, f.contacts, f.members, f.queue, f.sender, storemem.NewLocker(), testLogger())
	return f
}

func (f *fixture) addContact(t *testing.T, id, email string) {
	t.Helper()
	now := time.Now().UTC()
	err := f.contacts.Create(context.Background(), &domain.Contact{
		ID:        id,
		TenantID:  tenant,
		Name:      "Contact " + id,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("failed to create contact: %v", err)
	}
}

func (f *fixture) createCampaign(t *testing.T, targeting domain.Targeting) *domain.Campaign {
	t.Helper()
	c, err := f.service.Create(context.Background(), tenant, &domain.CampaignRequest{
		Name:      "Spring sale",
		Channel:   domain.ChannelEmail,
		Content:   domain.Content{Subject: "Hi {{first_name}}", Body: "Sale for {{name}}"},
		Targeting: targeting,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c
}

// runJobs runs queued jobs, including jobs they enqueue, until none are left.
func (f *fixture) runJobs(t *testing.T) {
	t.Helper()
	for {
		jobs := f.queue.take()
		if len(jobs) == 0 {
			return
		}
		for _, job := range jobs {
			if err := f.service.Handle(context.Background(), job); err != nil {
				t.Fatalf("Handle(%s) error = %v", job.Name, err)
			}
		}
	}
}

func (f *fixture) executionsByStatus(t *testing.T, campaignID string) map[domain.ExecutionStatus]int {
	t.Helper()
	execs, _, err := f.executions.List(context.Background(), domain.ExecutionFilter{TenantID: tenant, CampaignID: campaignID})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	counts := make(map[domain.ExecutionStatus]int)
	for _, e := range execs {
		counts[e.Status]++
	}
	return counts
}

func (f *fixture) status(t *testing.T, id string) domain.CampaignStatus {
	t.Helper()
	c, err := f.service.Get(context.Background(), tenant, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return c.Status
}

func TestService_Schedule_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty := f.createCampaign(t, domain.Targeting{})
	if _, err := f.service.Schedule(ctx, tenant, empty.ID, nil); !errors.Is(err, domain.ErrNoTargeting) {
		t.Errorf("Schedule(no targeting) error = %v, want ErrNoTargeting", err)
	}

	c := f.createCampaign(t, domain.Targeting{ContactIDs: []string{"c1"}})
	past := time.Now().Add(-time.Hour)
	if _, err := f.service.Schedule(ctx, tenant, c.ID, &past); !errors.Is(err, domain.ErrScheduleInPast) {
		t.Errorf("Schedule(past) error = %v, want ErrScheduleInPast", err)
	}

	if _, err := f.service.Schedule(ctx, tenant, "missing", nil); !errors.Is(err, domain.ErrCampaignNotFound) {
		t.Errorf("Schedule(missing) error = %v, want ErrCampaignNotFound", err)
	}

	if _, err := f.service.Cancel(ctx, tenant, c.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Schedule(cancelled) error = %v, want ErrInvalidTransition", err)
	}
}

func TestService_Schedule_DelaysStartJob(t *testing.T) {
	f := newFixture(t)
	c := f.createCampaign(t, domain.Targeting{ContactIDs: []string{"c1"}})

	at := time.Now().Add(time.Hour)
	scheduled, err := f.service.Schedule(context.Background(), tenant, c.ID, &at)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if scheduled.Status != domain.CampaignScheduled {
		t.Errorf("Status = %s, want SCHEDULED", scheduled.Status)
	}
	if len(f.queue.delays) != 1 || f.queue.delays[0] < 59*time.Minute {
		t.Errorf("start job delays = %v, want about one hour", f.queue.delays)
	}
	if f.queue.jobs[0].Name != JobStartCampaign {
		t.Errorf("job name = %s, want %s", f.queue.jobs[0].Name, JobStartCampaign)
	}
}

func TestService_Run_DeliversAndCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addContact(t, "c1", "c1@example.com")
	f.addContact(t, "c2", "c2@example.com")
	f.addContact(t, "c3", "")
	f.addContact(t, "c4", "bad@example.com")
	f.sender.failFor = "bad@example.com"
	f.members["s1"] = []string{"c1", "c2", "c3"}

	c := f.createCampaign(t, domain.Targeting{SegmentIDs: []string{"s1"}, ContactIDs: []string{"c4", "ghost"}})
	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	f.runJobs(t)

	counts := f.executionsByStatus(t, c.ID)
	if counts[domain.ExecutionSent] != 2 || counts[domain.ExecutionFailed] != 3 {
		t.Errorf("execution statuses = %v, want 2 sent and 3 failed", counts)
	}

	msgs := f.sender.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if msgs[0].Content.Subject != "Hi Contact" || msgs[0].Content.Body != "Sale for Contact c1" {
		t.Errorf("rendered content = %+v", msgs[0].Content)
	}

	if got := f.status(t, c.ID); got != domain.CampaignRunning {
		t.Fatalf("Status before sweep = %s, want RUNNING", got)
	}

	completed, err := f.service.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if completed != 1 {
		t.Errorf("Sweep() completed = %d, want 1", completed)
	}

	done, _ := f.service.Get(ctx, tenant, c.ID)
	if done.Status != domain.CampaignCompleted || done.CompletedAt == nil {
		t.Errorf("campaign = %s completedAt=%v, want COMPLETED", done.Status, done.CompletedAt)
	}
	if done.Stats.Targeted != 5 || done.Stats.Sent != 2 || done.Stats.Failed != 3 {
		t.Errorf("Stats = %+v", done.Stats)
	}
}

func TestService_StartExecution_NoRecipientsCompletes(t *testing.T) {
	f := newFixture(t)
	f.members["empty"] = []string{}
	c := f.createCampaign(t, domain.Targeting{SegmentIDs: []string{"empty"}})

	if _, err := f.service.Schedule(context.Background(), tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	f.runJobs(t)

	if got := f.status(t, c.ID); got != domain.CampaignCompleted {
		t.Errorf("Status = %s, want COMPLETED", got)
	}
}

func TestService_StartExecution_RepeatedJobDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addContact(t, "c1", "c1@example.com")
	f.addContact(t, "c2", "c2@example.com")
	c := f.createCampaign(t, domain.Targeting{ContactIDs: []string{"c1", "c2"}})

	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	start := f.queue.take()[0]

	for i := 0; i < 2; i++ {
		if err := f.service.Handle(ctx, start); err != nil {
			t.Fatalf("Handle(start) #%d error = %v", i+1, err)
		}
	}
	f.runJobs(t)

	_, total, _ := f.executions.List(ctx, domain.ExecutionFilter{TenantID: tenant, CampaignID: c.ID})
	if total != 2 {
		t.Errorf("executions = %d, want 2", total)
	}
	if n := len(f.sender.messages()); n != 2 {
		t.Errorf("sent %d messages, want 2", n)
	}
}

func TestService_StartExecution_IgnoresStaleSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCampaign(t, domain.Targeting{ContactIDs: []string{"c1"}})

	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	stale := f.queue.take()[0]

	later := time.Now().Add(time.Hour)
	if _, err := f.service.Schedule(ctx, tenant, c.ID, &later); err != nil {
		t.Fatalf("Schedule(later) error = %v", err)
	}

	if err := f.service.Handle(ctx, stale); err != nil {
		t.Fatalf("Handle(stale) error = %v", err)
	}

	if got := f.status(t, c.ID); got != domain.CampaignScheduled {
		t.Errorf("Status = %s, want SCHEDULED", got)
	}
	if _, total, _ := f.executions.List(ctx, domain.ExecutionFilter{CampaignID: c.ID}); total != 0 {
		t.Errorf("executions = %d, want 0", total)
	}
}

func TestService_Pause_FailsQueuedDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addContact(t, "c1", "c1@example.com")
	f.addContact(t, "c2", "c2@example.com")
	c := f.createCampaign(t, domain.Targeting{ContactIDs: []string{"c1", "c2"}})

	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	for _, job := range f.queue.take() {
		if err := f.service.Handle(ctx, job); err != nil {
			t.Fatalf("Handle(start) error = %v", err)
		}
	}

	if _, err := f.service.Pause(ctx, tenant, c.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	f.runJobs(t)

	execs, _, _ := f.executions.List(ctx, domain.ExecutionFilter{TenantID: tenant, CampaignID: c.ID})
	for _, e := range execs {
		if e.Status != domain.ExecutionFailed || e.ErrorMessage != domain.CampaignNotRunningReason {
			t.Errorf("execution %s = %s %q, want failed %q", e.ContactID, e.Status, e.ErrorMessage, domain.CampaignNotRunningReason)
		}
	}
	if n := len(f.sender.messages()); n != 0 {
		t.Errorf("sent %d messages while paused, want 0", n)
	}
}

func TestService_Resume_RequeuesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addContact(t, "c1", "c1@example.com")
	f.addContact(t, "c2", "c2@example.com")
	c := f.createCampaign(t, domain.Targeting{ContactIDs: []string{"c1", "c2"}})

	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	for _, job := range f.queue.take() {
		if err := f.service.Handle(ctx, job); err != nil {
			t.Fatalf("Handle(start) error = %v", err)
		}
	}
	if _, err := f.service.Pause(ctx, tenant, c.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if _, err := f.service.Resume(ctx, tenant, c.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	f.runJobs(t)

	if counts := f.executionsByStatus(t, c.ID); counts[domain.ExecutionSent] != 2 {
		t.Errorf("execution statuses = %v, want 2 sent", counts)
	}
	if n := len(f.sender.messages()); n != 2 {
		t.Errorf("sent %d messages, want 2", n)
	}

	if _, err := f.service.Resume(ctx, tenant, c.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Resume(running) error = %v, want ErrInvalidTransition", err)
	}
}

func TestService_ABTest_UsesVariantContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addContact(t, "c1", "c1@example.com")
	f.service.SetDraw(func() float64 { return 50 })

	c, err := f.service.Create(ctx, tenant, &domain.CampaignRequest{
		Name:      "Split",
		Channel:   domain.ChannelEmail,
		Content:   domain.Content{Body: "default"},
		Targeting: domain.Targeting{ContactIDs: []string{"c1"}},
		IsABTest:  true,
		Variants: []domain.Variant{
			{ID: "va", Percentage: 50, Content: domain.Content{Body: "variant A"}},
			{ID: "vb", Percentage: 50, Content: domain.Content{Body: "variant B"}},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	f.runJobs(t)

	execs, _, _ := f.executions.List(ctx, domain.ExecutionFilter{CampaignID: c.ID})
	if len(execs) != 1 || execs[0].VariantID != "va" {
		t.Fatalf("executions = %+v, want one on variant va", execs)
	}
	if msgs := f.sender.messages(); len(msgs) != 1 || msgs[0].Content.Body != "variant A" {
		t.Errorf("messages = %+v, want variant A content", msgs)
	}
}

func TestService_UpdateStats_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addContact(t, "c1", "c1@example.com")
	c := f.createCampaign(t, domain.Targeting{ContactIDs: []string{"c1"}})

	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	f.runJobs(t)

	first, err := f.service.UpdateStats(ctx, tenant, c.ID)
	if err != nil {
		t.Fatalf("UpdateStats() error = %v", err)
	}
	before, _ := f.service.Get(ctx, tenant, c.ID)

	second, err := f.service.UpdateStats(ctx, tenant, c.ID)
	if err != nil {
		t.Fatalf("UpdateStats() error = %v", err)
	}
	after, _ := f.service.Get(ctx, tenant, c.ID)

	if !first.Equal(second) {
		t.Errorf("stats changed between calls: %+v vs %+v", first, second)
	}
	if after.Version != before.Version {
		t.Errorf("Version = %d, want unchanged %d", after.Version, before.Version)
	}
	if second.Sent != 1 || second.Targeted != 1 {
		t.Errorf("stats = %+v", second)
	}
}

func TestService_EditAndDeleteGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addContact(t, "c1", "c1@example.com")
	c := f.createCampaign(t, domain.Targeting{ContactIDs: []string{"c1"}})

	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	for _, job := range f.queue.take() {
		if err := f.service.Handle(ctx, job); err != nil {
			t.Fatalf("Handle(start) error = %v", err)
		}
	}

	req := &domain.CampaignRequest{Name: "Renamed", Channel: domain.ChannelEmail}
	if _, err := f.service.Update(ctx, tenant, c.ID, req); !errors.Is(err, domain.ErrCampaignRunning) {
		t.Errorf("Update(running) error = %v, want ErrCampaignRunning", err)
	}
	if err := f.service.Delete(ctx, tenant, c.ID); !errors.Is(err, domain.ErrCampaignRunning) {
		t.Errorf("Delete(running) error = %v, want ErrCampaignRunning", err)
	}

	if _, err := f.service.Cancel(ctx, tenant, c.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := f.service.Delete(ctx, tenant, c.ID); err != nil {
		t.Fatalf("Delete(cancelled) error = %v", err)
	}
	if _, total, _ := f.executions.List(ctx, domain.ExecutionFilter{CampaignID: c.ID}); total != 0 {
		t.Errorf("executions after delete = %d, want 0", total)
	}
}

func TestService_WithMemoryJobQueue(t *testing.T) {
	logger := testLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobs := jobmem.NewQueue(jobqueue.Options{Workers: 2, MaxAttempts: 3, PollInterval: 5 * time.Millisecond}, logger)
	contacts := storemem.NewContactRepository()
	executions := storemem.NewExecutionRepository()
	campaigns := storemem.NewCampaignRepository(executions)
	sender := &recordingSender{}
	svc := NewService(campaigns, executions, contacts, staticMembers{}, jobs, sender, storemem.NewLocker(), logger)

	for _, id := range []string{"c1", "c2", "c3"} {
		now := time.Now().UTC()
		_ = contacts.Create(ctx, &domain.Contact{ID: id, TenantID: tenant, Email: id + "@example.com", CreatedAt: now, UpdatedAt: now})
	}

	go func() { _ = jobs.Start(ctx, svc.Handle) }()

	c, err := svc.Create(ctx, tenant, &domain.CampaignRequest{
		Name:      "Queue",
		Channel:   domain.ChannelEmail,
		Content:   domain.Content{Body: "hi"},
		Targeting: domain.Targeting{ContactIDs: []string{"c1", "c2", "c3"}},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if err := jobs.Wait(ctx, time.Second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if n := len(sender.messages()); n != 3 {
		t.Errorf("sent %d messages, want 3", n)
	}
}

// flakyContacts fails the first GetByID with a transient error.
type flakyContacts struct {
	*storemem.ContactRepository
	mu     sync.Mutex
	failed bool
}

func (r *flakyContacts) GetByID(ctx context.Context, tenantID, id string) (*domain.Contact, error) {
	r.mu.Lock()
	first := !r.failed
	r.failed = true
	r.mu.Unlock()
	if first {
		return nil, errors.New("connection reset")
	}
	return r.ContactRepository.GetByID(ctx, tenantID, id)
}

func TestService_Deliver_RetryAfterTransientContactError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addContact(t, "c1", "c1@example.com")
	f.service = NewService(f.campaigns, f.executions, &flakyContacts{ContactRepository: f.contacts},
		f.members, f.queue, f.sender, storemem.NewLocker(), testLogger())

	c := f.createCampaign(t, domain.Targeting{ContactIDs: []string{"c1"}})
	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	for _, job := range f.queue.take() {
		if err := f.service.Handle(ctx, job); err != nil {
			t.Fatalf("Handle(start) error = %v", err)
		}
	}

	deliveries := f.queue.take()
	if len(deliveries) != 1 || deliveries[0].Name != JobDeliver {
		t.Fatalf("jobs = %v, want one delivery", deliveries)
	}
	if err := f.service.Handle(ctx, deliveries[0]); err == nil {
		t.Fatal("Handle(deliver) error = nil, want transient error")
	}
	if counts := f.executionsByStatus(t, c.ID); counts[domain.ExecutionQueued] != 1 {
		t.Fatalf("execution statuses after failure = %v, want 1 queued", counts)
	}

	if err := f.service.Handle(ctx, deliveries[0]); err != nil {
		t.Fatalf("Handle(redelivered) error = %v", err)
	}
	if counts := f.executionsByStatus(t, c.ID); counts[domain.ExecutionSent] != 1 {
		t.Errorf("execution statuses = %v, want 1 sent", counts)
	}
	if n := len(f.sender.messages()); n != 1 {
		t.Errorf("sent %d messages, want 1", n)
	}

	completed, err := f.service.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if completed != 1 {
		t.Errorf("Sweep() completed = %d, want 1", completed)
	}
	if got := f.status(t, c.ID); got != domain.CampaignCompleted {
		t.Errorf("Status = %s, want COMPLETED", got)
	}
}

func TestService_Resume_RequeuesQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addContact(t, "c1", "c1@example.com")
	c := f.createCampaign(t, domain.Targeting{ContactIDs: []string{"c1"}})

	if _, err := f.service.Schedule(ctx, tenant, c.ID, nil); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	for _, job := range f.queue.take() {
		if err := f.service.Handle(ctx, job); err != nil {
			t.Fatalf("Handle(start) error = %v", err)
		}
	}
	f.queue.take()

	execs, _, err := f.executions.List(ctx, domain.ExecutionFilter{TenantID: tenant, CampaignID: c.ID})
	if err != nil || len(execs) != 1 {
		t.Fatalf("List() = %v, %v", execs, err)
	}
	if err := execs[0].Advance(domain.ExecutionQueued, time.Now().UTC()); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if err := f.executions.Update(ctx, execs[0]); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if _, err := f.service.Pause(ctx, tenant, c.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if _, err := f.service.Resume(ctx, tenant, c.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	f.runJobs(t)

	if counts := f.executionsByStatus(t, c.ID); counts[domain.ExecutionSent] != 1 {
		t.Errorf("execution statuses = %v, want 1 sent", counts)
	}
}
