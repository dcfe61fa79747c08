package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"herald-go/internal/domain"
	"herald-go/internal/store"
)

func newCampaign(tenantID, id string) *domain.Campaign {
	now := time.Now().UTC()
	return &domain.Campaign{
		ID:        id,
		TenantID:  tenantID,
		Name:      "Launch",
		Channel:   domain.ChannelEmail,
		Status:    domain.CampaignDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCampaignRepository_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepository(NewExecutionRepository())

	if err := repo.Create(ctx, newCampaign("t1", "c1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	first, _ := repo.GetByID(ctx, "t1", "c1")
	second, _ := repo.GetByID(ctx, "t1", "c1")

	first.Name = "First writer"
	if err := repo.Update(ctx, first); err != nil {
		t.Fatalf("Update(first) error = %v", err)
	}
	if first.Version != 2 {
		t.Errorf("Version after update = %d, want 2", first.Version)
	}

	second.Name = "Second writer"
	if err := repo.Update(ctx, second); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("Update(stale) error = %v, want ErrVersionConflict", err)
	}

	stored, _ := repo.GetByID(ctx, "t1", "c1")
	if stored.Name != "First writer" {
		t.Errorf("stored Name = %q, want %q", stored.Name, "First writer")
	}
}

func TestCampaignRepository_TenantScoping(t *testing.T) {
	ctx := context.Background()
	repo := NewCampaignRepository(NewExecutionRepository())
	_ = repo.Create(ctx, newCampaign("t1", "c1"))
	_ = repo.Create(ctx, newCampaign("t2", "c2"))

	if _, err := repo.GetByID(ctx, "t2", "c1"); !errors.Is(err, domain.ErrCampaignNotFound) {
		t.Errorf("GetByID(other tenant) error = %v, want ErrCampaignNotFound", err)
	}

	tests := []struct {
		name   string
		tenant string
		want   int
	}{
		{"one tenant", "t1", 1},
		{"all tenants", "", 2},
		{"unknown tenant", "t3", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, domain.CampaignFilter{TenantID: tt.tenant})
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List() returned %d campaigns, want %d", len(got), tt.want)
			}
		})
	}
}

func TestCampaignRepository_DeleteCascadesExecutions(t *testing.T) {
	ctx := context.Background()
	executions := NewExecutionRepository()
	repo := NewCampaignRepository(executions)

	c := newCampaign("t1", "c1")
	_ = repo.Create(ctx, c)
	_, _, _ = executions.CreateIfAbsent(ctx, domain.NewExecution("e1", c, "contact-1", ""))

	if err := repo.Delete(ctx, "t1", "c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := executions.GetByID(ctx, "t1", "e1"); !errors.Is(err, domain.ErrExecutionNotFound) {
		t.Errorf("GetByID(after cascade) error = %v, want ErrExecutionNotFound", err)
	}
}

func TestExecutionRepository_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutionRepository()
	c := newCampaign("t1", "c1")

	first, created, err := repo.CreateIfAbsent(ctx, domain.NewExecution("e1", c, "contact-1", ""))
	if err != nil || !created {
		t.Fatalf("CreateIfAbsent(first) = %v, %v; want created", created, err)
	}

	again, created, err := repo.CreateIfAbsent(ctx, domain.NewExecution("e2", c, "contact-1", ""))
	if err != nil {
		t.Fatalf("CreateIfAbsent(again) error = %v", err)
	}
	if created {
		t.Error("CreateIfAbsent(again) created a second execution for the same recipient")
	}
	if again.ID != first.ID {
		t.Errorf("CreateIfAbsent(again) ID = %q, want existing %q", again.ID, first.ID)
	}

	_, total, _ := repo.List(ctx, domain.ExecutionFilter{TenantID: "t1", CampaignID: "c1"})
	if total != 1 {
		t.Errorf("List() total = %d, want 1", total)
	}
}

func TestExecutionRepository_ExternalIDIndex(t *testing.T) {
	ctx := context.Background()
	repo := NewExecutionRepository()
	c := newCampaign("t1", "c1")
	exec, _, _ := repo.CreateIfAbsent(ctx, domain.NewExecution("e1", c, "contact-1", ""))

	now := time.Now().UTC()
	if err := exec.Advance(domain.ExecutionQueued, now); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if err := exec.MarkSent("msg-1", now); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	if err := repo.Update(ctx, exec); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByExternalID(ctx, "t1", "msg-1")
	if err != nil {
		t.Fatalf("GetByExternalID() error = %v", err)
	}
	if got.ID != "e1" || got.Status != domain.ExecutionSent {
		t.Errorf("GetByExternalID() = %s/%s, want e1/sent", got.ID, got.Status)
	}

	if _, err := repo.GetByExternalID(ctx, "t2", "msg-1"); !errors.Is(err, domain.ErrExecutionNotFound) {
		t.Errorf("GetByExternalID(other tenant) error = %v, want ErrExecutionNotFound", err)
	}

	stats, err := repo.Stats(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Targeted != 1 || stats.Sent != 1 {
		t.Errorf("Stats() = targeted %d sent %d, want 1 and 1", stats.Targeted, stats.Sent)
	}
}

func TestLocker_SerializesHolders(t *testing.T) {
	locker := NewLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, store.CampaignLockKey("c1"), time.Second)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
}

func TestLocker_AcquireHonoursContext(t *testing.T) {
	locker := NewLocker()
	release, err := locker.Acquire(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "k", time.Minute); !errors.Is(err, store.ErrLockNotAcquired) {
		t.Errorf("Acquire(held) error = %v, want ErrLockNotAcquired", err)
	}
}

func TestLocker_HeldLockOutlivesTTL(t *testing.T) {
	locker := NewLocker()
	release, err := locker.Acquire(context.Background(), "k", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "k", time.Minute); !errors.Is(err, store.ErrLockNotAcquired) {
		t.Errorf("Acquire(held past ttl) error = %v, want ErrLockNotAcquired", err)
	}

	release()
	next, err := locker.Acquire(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire(after release) error = %v", err)
	}
	next()
}

func TestLocker_ExpiredLockCanBeTaken(t *testing.T) {
	locker := NewLocker()
	// A holder that stopped refreshing, as after a crash.
	token, _ := locker.tryAcquire("k", time.Millisecond)
	stale := func() { locker.release("k", token) }
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := locker.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire(after expiry) error = %v", err)
	}

	// The stale holder must not release the new holder's lock.
	stale()
	if _, ok := locker.tryAcquire("k", time.Minute); ok {
		t.Error("stale release freed the current holder's lock")
	}
	release()
}
