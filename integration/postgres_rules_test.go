package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"herald-go/internal/config"
	"herald-go/internal/domain"
	"herald-go/internal/rules"
	memorystor "herald-go/internal/store/memory"
	postgresstor "herald-go/internal/store/postgres"
)

// envOr returns the environment variable or fallback when it is unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func ruleLeaf(field string, op domain.Operator, value any) domain.RuleNode {
	return domain.LeafNode(domain.Rule{Field: field, Operator: op, Value: value})
}

// agreementRules are evaluated both in memory and as SQL. The first six
// are the building blocks of the rule compiler's property tests.
var agreementRules = map[string]domain.RuleGroup{
	"orders greater than":  domain.And(ruleLeaf("orders", domain.OpGreaterThan, 2)),
	"orders less than":     domain.And(ruleLeaf("orders", domain.OpLessThan, "5")),
	"tag in":               domain.And(ruleLeaf("tags", domain.OpIn, []any{"vip"})),
	"name starts with":     domain.And(ruleLeaf("name", domain.OpStartsWith, "a")),
	"email is empty":       domain.And(ruleLeaf("email", domain.OpIsEmpty, nil)),
	"spent greater than":   domain.And(ruleLeaf("spent", domain.OpGreaterThan, "10.5")),
	"tag not in":           domain.And(ruleLeaf("tags", domain.OpNotIn, []any{"VIP"})),
	"name contains":        domain.And(ruleLeaf("name", domain.OpContains, "LIC")),
	"email is not empty":   domain.And(ruleLeaf("email", domain.OpIsNotEmpty, nil)),
	"custom field equals":  domain.And(ruleLeaf("customFields.plan", domain.OpEquals, "Gold")),
	"stage equals":         domain.And(ruleLeaf("stage", domain.OpEquals, "customer")),
	"created within last":  domain.And(domain.LeafNode(domain.Rule{Field: "createdAt", Operator: domain.OpWithinLast, Value: 30, ValueUnit: domain.UnitDays})),
	"and of two":           domain.And(ruleLeaf("orders", domain.OpGreaterThan, 2), ruleLeaf("tags", domain.OpIn, []any{"vip"})),
	"or of two":            domain.Or(ruleLeaf("name", domain.OpStartsWith, "a"), ruleLeaf("email", domain.OpIsEmpty, nil)),
	"nested group":         domain.And(ruleLeaf("spent", domain.OpGreaterThan, "10.5"), domain.GroupNode(domain.Or(ruleLeaf("orders", domain.OpLessThan, "5"), ruleLeaf("tags", domain.OpIn, []any{"vip"})))),
	"empty group":          domain.And(),
	"dropped rule":         domain.And(ruleLeaf("favouriteColour", domain.OpEquals, "red")),
	"dropped rule sibling": domain.Or(ruleLeaf("orders", domain.OpGreaterThan, 2), ruleLeaf("orders", "sounds_like", "x")),
}

// agreementContacts covers every combination the agreement rules branch on.
func agreementContacts(tenantID string, now time.Time) []*domain.Contact {
	var out []*domain.Contact
	i := 0
	for _, orders := range []int{0, 2, 3, 6} {
		for _, vip := range []bool{false, true} {
			for _, named := range []bool{false, true} {
				for _, cents := range []int64{0, 1050, 1051, 2500} {
					created := now.Add(-time.Duration(i*3) * 24 * time.Hour)
					c := &domain.Contact{
						ID:            uuid.NewString(),
						TenantID:      tenantID,
						Name:          fmt.Sprintf("bob %d", i),
						Tags:          []string{},
						EcommerceData: &domain.EcommerceData{TotalOrders: orders, TotalSpent: decimal.New(cents, -2)},
						CreatedAt:     created,
						UpdatedAt:     created,
					}
					if vip {
						c.Tags = []string{"VIP"}
					}
					if named {
						c.Name = fmt.Sprintf("Alice %d", i)
						c.Email = fmt.Sprintf("alice%d@example.com", i)
						c.LifecycleStage = "customer"
						c.CustomFields = map[string]any{"plan": "gold"}
					}
					out = append(out, c)
					i++
				}
			}
		}
	}

	out = append(out, &domain.Contact{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      "no orders",
		Tags:      []string{},
		CreatedAt: now.Add(-90 * 24 * time.Hour),
		UpdatedAt: now,
	})
	return out
}

var _ = Describe("PostgreSQL rule evaluation", Ordered, func() {
	var (
		ctx      context.Context
		db       *postgresstor.DB
		pg       *postgresstor.ContactRepository
		mem      *memorystor.ContactRepository
		tenantID string
		contacts []*domain.Contact
		compiler *rules.Compiler
	)

	BeforeAll(func() {
		host := os.Getenv("HERALD_TEST_POSTGRES_HOST")
		if host == "" {
			Skip("HERALD_TEST_POSTGRES_HOST is not set")
		}
		port, err := strconv.Atoi(envOr("HERALD_TEST_POSTGRES_PORT", "5432"))
		Expect(err).NotTo(HaveOccurred())

		ctx = context.Background()
		db, err = postgresstor.NewDB(ctx, &config.PostgresConfig{
			Host:         host,
			Port:         port,
			User:         envOr("HERALD_TEST_POSTGRES_USER", "postgres"),
			Password:     envOr("HERALD_TEST_POSTGRES_PASSWORD", "postgres"),
			Database:     envOr("HERALD_TEST_POSTGRES_DATABASE", "herald"),
			SSLMode:      envOr("HERALD_TEST_POSTGRES_SSLMODE", "disable"),
			MaxOpenConns: 4,
			MaxIdleConns: 1,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.RunMigrations(ctx)).To(Succeed())

		pg = postgresstor.NewContactRepository(db)
		mem = memorystor.NewContactRepository()
		tenantID = "rules-" + uuid.NewString()[:8]
		compiler = rules.NewCompiler(slog.New(slog.NewTextHandler(io.Discard, nil)))

		contacts = agreementContacts(tenantID, time.Now().UTC().Truncate(time.Microsecond))
		for _, c := range contacts {
			Expect(pg.Create(ctx, c.Clone())).To(Succeed())
			Expect(mem.Create(ctx, c.Clone())).To(Succeed())
		}
	})

	AfterAll(func() {
		if db == nil {
			return
		}
		for _, c := range contacts {
			_ = pg.Delete(ctx, tenantID, c.ID)
		}
		db.Close()
	})

	It("selects the same contacts as the in-memory evaluation", func() {
		for name, group := range agreementRules {
			q := compiler.Compile(group)

			want, err := mem.FindMatching(ctx, tenantID, q)
			Expect(err).NotTo(HaveOccurred(), name)
			got, err := pg.FindMatching(ctx, tenantID, q)
			Expect(err).NotTo(HaveOccurred(), name)

			Expect(got).To(ConsistOf(want), "rule %q", name)
		}
	})

	It("counts and single-contact checks agree with FindMatching", func() {
		for name, group := range agreementRules {
			q := compiler.Compile(group)

			ids, err := pg.FindMatching(ctx, tenantID, q)
			Expect(err).NotTo(HaveOccurred(), name)
			count, err := pg.CountMatching(ctx, tenantID, q)
			Expect(err).NotTo(HaveOccurred(), name)
			Expect(count).To(Equal(len(ids)), "rule %q", name)

			matched := make(map[string]bool, len(ids))
			for _, id := range ids {
				matched[id] = true
			}
			for _, c := range contacts[:8] {
				ok, err := pg.MatchesContact(ctx, tenantID, c.ID, q)
				Expect(err).NotTo(HaveOccurred(), name)
				Expect(ok).To(Equal(matched[c.ID]), "rule %q contact %s", name, c.Name)
			}
		}
	})
})
