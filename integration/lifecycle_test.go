package integration

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"herald-go/internal/api"
	"herald-go/internal/config"
	"herald-go/internal/domain"
)

const tenant = "tenant-acme"

type executionPage struct {
	Items []domain.CampaignExecution `json:"items"`
	Total int                        `json:"total"`
}

var _ = Describe("Campaign lifecycle", Ordered, func() {
	var (
		h          *harness
		contactIDs map[string]string
		segmentID  string
		campaignID string
	)

	createContact := func(body map[string]any) string {
		resp := h.as(tenant, http.MethodPost, "/v1/contacts", body)
		Expect(resp.Status).To(Equal(http.StatusCreated), "create contact: %+v", resp.Error)
		var c domain.Contact
		resp.decode(&c)
		return c.ID
	}

	getCampaign := func(id string) domain.Campaign {
		resp := h.as(tenant, http.MethodGet, "/v1/campaigns/"+id, nil)
		Expect(resp.Status).To(Equal(http.StatusOK))
		var c domain.Campaign
		resp.decode(&c)
		return c
	}

	executions := func(id, status string) executionPage {
		path := "/v1/campaigns/" + id + "/executions"
		if status != "" {
			path += "?status=" + status
		}
		resp := h.as(tenant, http.MethodGet, path, nil)
		Expect(resp.Status).To(Equal(http.StatusOK))
		var page executionPage
		resp.decode(&page)
		return page
	}

	BeforeAll(func() {
		h = newHarness(config.AuthConfig{})
		contactIDs = map[string]string{}
	})

	AfterAll(func() {
		h.Close()
	})

	Describe("Health check", func() {
		It("reports healthy without a tenant", func() {
			resp := h.do(http.MethodGet, "/healthz", nil)
			Expect(resp.Status).To(Equal(http.StatusOK))
			Expect(resp.Success).To(BeTrue())
		})
	})

	Describe("Tenant resolution", func() {
		It("rejects API calls without a tenant header", func() {
			resp := h.do(http.MethodGet, "/v1/contacts", nil)
			Expect(resp.Status).To(Equal(http.StatusBadRequest))
			Expect(resp.Error.Code).To(Equal(api.ErrCodeBadRequest))
		})
	})

	Describe("Contacts and segments", func() {
		It("creates contacts", func() {
			contactIDs["alice"] = createContact(map[string]any{
				"name": "Alice Doe", "email": "alice@example.com", "tags": []string{"vip"},
			})
			contactIDs["bob"] = createContact(map[string]any{
				"name": "Bob Roe", "email": "bob@example.com", "tags": []string{"vip", "newsletter"},
			})
			contactIDs["carol"] = createContact(map[string]any{
				"name": "Carol Poe", "phone": "+15550100", "tags": []string{"VIP"},
			})
			contactIDs["dave"] = createContact(map[string]any{
				"name": "Dave Moe", "email": "dave@example.com",
			})
		})

		It("previews a rule group without saving it", func() {
			resp := h.as(tenant, http.MethodPost, "/v1/segments/preview", map[string]any{
				"combinator": "and",
				"rules": []any{
					map[string]any{"field": "tags", "operator": "in", "value": []string{"vip"}},
				},
			})
			Expect(resp.Status).To(Equal(http.StatusOK))

			var preview api.PreviewResponse
			resp.decode(&preview)
			Expect(preview.Count).To(Equal(3))
			Expect(preview.Warnings).To(BeEmpty())
		})

		It("creates a dynamic segment and evaluates membership", func() {
			resp := h.as(tenant, http.MethodPost, "/v1/segments", map[string]any{
				"name": "VIPs",
				"type": "dynamic",
				"rules": map[string]any{
					"combinator": "AND",
					"rules": []any{
						map[string]any{"field": "tags", "operator": "IN", "value": []string{"vip"}},
					},
				},
			})
			Expect(resp.Status).To(Equal(http.StatusCreated), "create segment: %+v", resp.Error)

			var seg domain.Segment
			resp.decode(&seg)
			Expect(seg.Type).To(Equal(domain.SegmentDynamic))
			segmentID = seg.ID

			resp = h.as(tenant, http.MethodGet, "/v1/segments/"+segmentID+"/contacts/"+contactIDs["dave"], nil)
			Expect(resp.Status).To(Equal(http.StatusOK))
			var membership api.MembershipResponse
			resp.decode(&membership)
			Expect(membership.IsMember).To(BeFalse())

			resp = h.as(tenant, http.MethodGet, "/v1/segments/"+segmentID+"/members", nil)
			Expect(resp.Status).To(Equal(http.StatusOK))
			var page struct {
				Items []string `json:"items"`
				Total int      `json:"total"`
			}
			resp.decode(&page)
			Expect(page.Total).To(Equal(3))
			Expect(page.Items).To(ConsistOf(contactIDs["alice"], contactIDs["bob"], contactIDs["carol"]))
		})

		It("hides the segment from other tenants", func() {
			resp := h.as("tenant-other", http.MethodGet, "/v1/segments/"+segmentID, nil)
			Expect(resp.Status).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Campaign execution", func() {
		It("creates a draft email campaign", func() {
			resp := h.as(tenant, http.MethodPost, "/v1/campaigns", map[string]any{
				"name":    "Spring launch",
				"channel": "EMAIL",
				"content": map[string]any{
					"subject": "Hi {{first_name}}",
					"body":    "Our spring collection is here.",
				},
				"targeting": map[string]any{"segmentIds": []string{segmentID}},
			})
			Expect(resp.Status).To(Equal(http.StatusCreated), "create campaign: %+v", resp.Error)

			var c domain.Campaign
			resp.decode(&c)
			Expect(c.Status).To(Equal(domain.CampaignDraft))
			Expect(c.Channel).To(Equal(domain.ChannelEmail))
			campaignID = c.ID
		})

		It("refuses a schedule in the past", func() {
			past := time.Now().Add(-time.Hour).UTC()
			resp := h.as(tenant, http.MethodPost, "/v1/campaigns/"+campaignID+"/schedule",
				map[string]any{"scheduledAt": past})
			Expect(resp.Status).To(Equal(http.StatusBadRequest))
			Expect(resp.Error.Code).To(Equal(api.ErrCodeValidationFailed))
		})

		It("runs to completion once scheduled", func() {
			resp := h.as(tenant, http.MethodPost, "/v1/campaigns/"+campaignID+"/schedule", nil)
			Expect(resp.Status).To(Equal(http.StatusOK), "schedule: %+v", resp.Error)

			var c domain.Campaign
			resp.decode(&c)
			Expect(c.Status).To(Equal(domain.CampaignScheduled))

			Eventually(func() domain.CampaignStatus {
				return getCampaign(campaignID).Status
			}, 5*time.Second, 20*time.Millisecond).Should(Equal(domain.CampaignCompleted))

			c = getCampaign(campaignID)
			Expect(c.StartedAt).NotTo(BeNil())
			Expect(c.CompletedAt).NotTo(BeNil())
			Expect(c.Stats.Targeted).To(Equal(3))
			Expect(c.Stats.Sent).To(Equal(2))
			Expect(c.Stats.Failed).To(Equal(1))
		})

		It("records why an execution failed", func() {
			page := executions(campaignID, "failed")
			Expect(page.Total).To(Equal(1))
			Expect(page.Items[0].ContactID).To(Equal(contactIDs["carol"]))
			Expect(page.Items[0].ErrorMessage).To(ContainSubstring("email"))
		})

		It("refuses to edit a finished campaign", func() {
			resp := h.as(tenant, http.MethodPut, "/v1/campaigns/"+campaignID, map[string]any{
				"name": "Renamed", "channel": "email",
			})
			Expect(resp.Status).To(Equal(http.StatusConflict))
		})
	})

	Describe("Delivery receipts", func() {
		var aliceExecution domain.CampaignExecution

		It("exposes the provider message ID of sent executions", func() {
			for _, e := range executions(campaignID, "sent").Items {
				if e.ContactID == contactIDs["alice"] {
					aliceExecution = e
				}
			}
			Expect(aliceExecution.ExternalMessageID).NotTo(BeEmpty())
		})

		It("accepts receipts asynchronously", func() {
			resp := h.as(tenant, http.MethodPost, "/v1/webhooks/receipts", map[string]any{
				"externalMessageId": aliceExecution.ExternalMessageID,
				"status":            "DELIVERED",
			})
			Expect(resp.Status).To(Equal(http.StatusAccepted))
		})

		It("advances the execution and the campaign stats", func() {
			Eventually(func() int {
				return getCampaign(campaignID).Stats.Delivered
			}, 5*time.Second, 20*time.Millisecond).Should(Equal(1))

			page := executions(campaignID, "delivered")
			Expect(page.Total).To(Equal(1))
			Expect(page.Items[0].ID).To(Equal(aliceExecution.ID))
			Expect(page.Items[0].DeliveredAt).NotTo(BeNil())
		})

		It("records a conversion with its value", func() {
			resp := h.as(tenant, http.MethodPost, "/v1/webhooks/receipts", map[string]any{
				"externalMessageId": aliceExecution.ExternalMessageID,
				"status":            "converted",
				"value":             "25.50",
			})
			Expect(resp.Status).To(Equal(http.StatusAccepted))

			Eventually(func() int {
				return getCampaign(campaignID).Stats.Converted
			}, 5*time.Second, 20*time.Millisecond).Should(Equal(1))

			stats := getCampaign(campaignID).Stats
			Expect(stats.ConversionValue.Equal(decimal.RequireFromString("25.5"))).To(BeTrue())
		})

		It("rejects malformed receipts", func() {
			resp := h.as(tenant, http.MethodPost, "/v1/webhooks/receipts", map[string]any{
				"externalMessageId": aliceExecution.ExternalMessageID,
				"status":            "teleported",
			})
			Expect(resp.Status).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Pausing a throttled campaign", func() {
		var throttledID string

		It("stops delivering while paused", func() {
			resp := h.as(tenant, http.MethodPost, "/v1/campaigns", map[string]any{
				"name":      "Slow drip",
				"channel":   "email",
				"content":   map[string]any{"subject": "Drip", "body": "One at a time."},
				"targeting": map[string]any{"contactIds": []string{contactIDs["alice"], contactIDs["bob"], contactIDs["dave"]}},
				"throttle":  map[string]any{"enabled": true, "messagesPerHour": 1},
			})
			Expect(resp.Status).To(Equal(http.StatusCreated), "create campaign: %+v", resp.Error)
			var c domain.Campaign
			resp.decode(&c)
			throttledID = c.ID

			resp = h.as(tenant, http.MethodPost, "/v1/campaigns/"+throttledID+"/schedule", nil)
			Expect(resp.Status).To(Equal(http.StatusOK))

			Eventually(func() int {
				return executions(throttledID, "sent").Total
			}, 5*time.Second, 20*time.Millisecond).Should(Equal(1))

			resp = h.as(tenant, http.MethodPost, "/v1/campaigns/"+throttledID+"/pause", nil)
			Expect(resp.Status).To(Equal(http.StatusOK))
			resp.decode(&c)
			Expect(c.Status).To(Equal(domain.CampaignPaused))

			Expect(executions(throttledID, "pending").Total).To(Equal(2))
		})

		It("refuses to pause twice", func() {
			resp := h.as(tenant, http.MethodPost, "/v1/campaigns/"+throttledID+"/pause", nil)
			Expect(resp.Status).To(Equal(http.StatusConflict))
		})

		It("cancels a paused campaign", func() {
			resp := h.as(tenant, http.MethodPost, "/v1/campaigns/"+throttledID+"/cancel", nil)
			Expect(resp.Status).To(Equal(http.StatusOK))

			var c domain.Campaign
			resp.decode(&c)
			Expect(c.Status).To(Equal(domain.CampaignCancelled))
			Expect(c.Stats.Pending).To(Equal(2))

			resp = h.as(tenant, http.MethodDelete, "/v1/campaigns/"+throttledID, nil)
			Expect(resp.Status).To(Equal(http.StatusNoContent))
		})
	})
})

var _ = Describe("Token authentication", Ordered, func() {
	const secret = "integration-secret"

	var h *harness

	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		Expect(err).NotTo(HaveOccurred())
		return "Bearer " + token
	}

	BeforeAll(func() {
		h = newHarness(config.AuthConfig{Enabled: true, JWTSecret: secret})
	})

	AfterAll(func() {
		h.Close()
	})

	It("rejects requests without a token", func() {
		resp := h.do(http.MethodGet, "/v1/contacts", nil, api.TenantHeader, tenant)
		Expect(resp.Status).To(Equal(http.StatusUnauthorized))
	})

	It("rejects expired tokens", func() {
		auth := sign(jwt.MapClaims{
			api.TenantClaim: tenant,
			"exp":           time.Now().Add(-time.Minute).Unix(),
		})
		resp := h.do(http.MethodGet, "/v1/contacts", nil, "Authorization", auth)
		Expect(resp.Status).To(Equal(http.StatusUnauthorized))
		Expect(resp.Error.Message).To(ContainSubstring("expired"))
	})

	It("rejects tokens without a tenant claim", func() {
		auth := sign(jwt.MapClaims{"sub": "someone"})
		resp := h.do(http.MethodGet, "/v1/contacts", nil, "Authorization", auth)
		Expect(resp.Status).To(Equal(http.StatusUnauthorized))
	})

	It("scopes requests to the tenant in the token", func() {
		auth := sign(jwt.MapClaims{
			api.TenantClaim: tenant,
			"exp":           time.Now().Add(time.Hour).Unix(),
		})

		resp := h.do(http.MethodPost, "/v1/contacts", map[string]any{"name": "Erin"}, "Authorization", auth)
		Expect(resp.Status).To(Equal(http.StatusCreated))
		var c domain.Contact
		resp.decode(&c)
		Expect(c.TenantID).To(Equal(tenant))

		other := sign(jwt.MapClaims{api.TenantClaim: "tenant-other"})
		resp = h.do(http.MethodGet, "/v1/contacts/"+c.ID, nil, "Authorization", other)
		Expect(resp.Status).To(Equal(http.StatusNotFound))
	})
})
