package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/gomega"

	"herald-go/internal/api"
	"herald-go/internal/campaign"
	"herald-go/internal/channel"
	"herald-go/internal/config"
	"herald-go/internal/jobqueue"
	jobmem "herald-go/internal/jobqueue/memory"
	memoryqueue "herald-go/internal/queue/memory"
	"herald-go/internal/receipt"
	"herald-go/internal/segment"
	memorystor "herald-go/internal/store/memory"
)

// harness is a Herald instance on memory backends with its workers running.
type harness struct {
	server    *api.Server
	campaigns *campaign.Service
	cancel    context.CancelFunc
	closers   []func() error
}

func newHarness(auth config.AuthConfig) *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	contacts := memorystor.NewContactRepository()
	segments := memorystor.NewSegmentRepository()
	executions := memorystor.NewExecutionRepository()
	campaigns := memorystor.NewCampaignRepository(executions)
	locker := memorystor.NewLocker()

	jobs := jobmem.NewQueue(jobqueue.Options{
		PollInterval: 10 * time.Millisecond,
		RetryBackoff: 10 * time.Millisecond,
		MaxAttempts:  3,
		Workers:      2,
	}, logger)
	receipts := memoryqueue.NewQueue(100, logger)

	segmentService := segment.NewService(segments, contacts, locker, logger)
	campaignService := campaign.NewService(
		campaigns, executions, contacts, segmentService,
		jobs, channel.NewStubSender(logger), locker, logger,
	)
	processor := receipt.NewProcessor(receipts, executions, campaignService, locker, logger)

	server := api.NewServer(api.ServerDeps{
		Config: &config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Auth:            &auth,
		Logger:          logger,
		ContactHandler:  api.NewContactHandler(contacts, logger),
		SegmentHandler:  api.NewSegmentHandler(segmentService, logger),
		CampaignHandler: api.NewCampaignHandler(campaignService, logger),
		ReceiptHandler:  api.NewReceiptHandler(receipt.NewIngester(receipts, logger), logger),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = jobs.Start(ctx, campaignService.Handle) }()
	go func() { _ = processor.Start(ctx) }()
	go campaign.NewSweeper(campaignService, 20*time.Millisecond, logger).Run(ctx)

	return &harness{
		server:    server,
		campaigns: campaignService,
		cancel:    cancel,
		closers:   []func() error{jobs.Close, receipts.Close, locker.Close},
	}
}

func (h *harness) Close() {
	h.cancel()
	for _, c := range h.closers {
		_ = c()
	}
}

// response is the decoded API envelope.
type response struct {
	Status  int             `json:"-"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *api.APIError   `json:"error"`
}

// do sends a request through the fiber app. Headers are given as
// alternating name/value pairs.
func (h *harness) do(method, path string, body any, headers ...string) *response {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := h.server.App().Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	out := &response{Status: resp.StatusCode}
	if resp.StatusCode != http.StatusNoContent {
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}
	return out
}

// as sends a request for tenant through the X-Tenant-ID header.
func (h *harness) as(tenant, method, path string, body any) *response {
	return h.do(method, path, body, api.TenantHeader, tenant)
}

// decode unmarshals the response data into target.
func (r *response) decode(target any) {
	ExpectWithOffset(1, json.Unmarshal(r.Data, target)).To(Succeed())
}
