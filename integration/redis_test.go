package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"herald-go/internal/config"
	"herald-go/internal/jobqueue"
	jobredis "herald-go/internal/jobqueue/redis"
	"herald-go/internal/store"
	redisstor "herald-go/internal/store/redis"
)

var _ = Describe("Redis backends", Ordered, func() {
	var (
		client *redis.Client
		prefix string
		logger *slog.Logger
	)

	BeforeAll(func() {
		host := os.Getenv("HERALD_TEST_REDIS_HOST")
		if host == "" {
			Skip("HERALD_TEST_REDIS_HOST is not set")
		}
		port, err := strconv.Atoi(envOr("HERALD_TEST_REDIS_PORT", "6379"))
		Expect(err).NotTo(HaveOccurred())

		client, err = redisstor.NewClient(&config.RedisConfig{
			Host:     host,
			Port:     port,
			Password: os.Getenv("HERALD_TEST_REDIS_PASSWORD"),
		})
		Expect(err).NotTo(HaveOccurred())

		prefix = "herald-test:" + uuid.NewString()[:8] + ":"
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	AfterAll(func() {
		if client == nil {
			return
		}
		ctx := context.Background()
		keys, err := client.Keys(ctx, prefix+"*").Result()
		if err == nil && len(keys) > 0 {
			_ = client.Del(ctx, keys...).Err()
		}
		_ = client.Close()
	})

	Describe("Locker", func() {
		It("excludes a second holder until release", func() {
			locker := redisstor.NewLocker(client, prefix, logger)
			key := store.CampaignLockKey("c1")

			release, err := locker.Acquire(context.Background(), key, time.Second)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_, err = locker.Acquire(ctx, key, time.Second)
			Expect(errors.Is(err, store.ErrLockNotAcquired)).To(BeTrue(), "error = %v", err)

			release()
			next, err := locker.Acquire(context.Background(), key, time.Second)
			Expect(err).NotTo(HaveOccurred())
			next()
		})

		It("keeps a held lock past its ttl", func() {
			locker := redisstor.NewLocker(client, prefix, logger)
			key := store.CampaignLockKey("c2")

			release, err := locker.Acquire(context.Background(), key, 300*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			defer release()

			time.Sleep(time.Second)

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_, err = locker.Acquire(ctx, key, time.Second)
			Expect(errors.Is(err, store.ErrLockNotAcquired)).To(BeTrue(), "error = %v", err)
		})
	})

	Describe("Job queue", func() {
		It("runs enqueued jobs and retries failures", func() {
			queue := jobredis.NewQueue(client, prefix+"jobs:", jobqueue.Options{
				PollInterval:      10 * time.Millisecond,
				VisibilityTimeout: 5 * time.Second,
				RetryBackoff:      10 * time.Millisecond,
				MaxAttempts:       3,
				Workers:           2,
			}, logger)

			var (
				mu       sync.Mutex
				attempts = map[string]int{}
				done     = map[string]bool{}
			)
			handler := func(ctx context.Context, job *jobqueue.Job) error {
				var p struct {
					Key string `json:"key"`
				}
				if err := job.Decode(&p); err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				attempts[p.Key]++
				if p.Key == "flaky" && attempts[p.Key] == 1 {
					return errors.New("connection reset")
				}
				done[p.Key] = true
				return nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				_ = queue.Start(ctx, handler)
			}()
			defer func() {
				cancel()
				<-stopped
				Expect(queue.Close()).To(Succeed())
			}()

			Expect(queue.Enqueue(ctx, "test.job", map[string]string{"key": "steady"}, 0)).To(Succeed())
			Expect(queue.Enqueue(ctx, "test.job", map[string]string{"key": "flaky"}, 0)).To(Succeed())
			Expect(queue.Enqueue(ctx, "test.job", map[string]string{"key": "later"}, 200*time.Millisecond)).To(Succeed())

			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()
				return len(done)
			}, 5*time.Second, 20*time.Millisecond).Should(Equal(3))

			mu.Lock()
			Expect(attempts["steady"]).To(Equal(1))
			Expect(attempts["flaky"]).To(Equal(2))
			mu.Unlock()

			Eventually(func() int64 {
				n, _ := queue.Len(context.Background())
				return n
			}, time.Second, 20*time.Millisecond).Should(BeZero())
		})
	})
})
