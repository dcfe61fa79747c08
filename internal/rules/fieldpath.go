package rules

import (
	"fmt"
	"strings"
	"time"

	"herald-go/internal/domain"
)

// aliases map shorthand field names to canonical paths.
var aliases = map[string]string{
	"lifecycle":     "lifecycleStage",
	"stage":         "lifecycleStage",
	"created":       "createdAt",
	"updated":       "updatedAt",
	"lastContacted": "lastContactedAt",
	"orders":        "ecommerceData.totalOrders",
	"spent":         "ecommerceData.totalSpent",
	"lastOrder":     "ecommerceData.lastOrderDate",
}

type fieldKind int

const (
	kindText fieldKind = iota
	kindNumber
	kindTime
	kindList
	kindDynamic
)

// field is a resolved contact attribute. Column fields read a table column,
// JSON fields read a path inside a JSONB column.
type field struct {
	path     string
	kind     fieldKind
	column   string
	jsonPath []string
	get      func(c *domain.Contact) any
}

type columnField struct {
	column string
	kind   fieldKind
	get    func(c *domain.Contact) any
}

var topLevel = map[string]columnField{
	"id":              {"id", kindText, func(c *domain.Contact) any { return c.ID }},
	"tenantId":        {"tenant_id", kindText, func(c *domain.Contact) any { return c.TenantID }},
	"name":            {"name", kindText, func(c *domain.Contact) any { return c.Name }},
	"email":           {"email", kindText, func(c *domain.Contact) any { return c.Email }},
	"phone":           {"phone", kindText, func(c *domain.Contact) any { return c.Phone }},
	"instagramId":     {"instagram_id", kindText, func(c *domain.Contact) any { return c.InstagramID }},
	"lifecycleStage":  {"lifecycle_stage", kindText, func(c *domain.Contact) any { return c.LifecycleStage }},
	"source":          {"source", kindText, func(c *domain.Contact) any { return c.Source }},
	"tags":            {"tags", kindList, func(c *domain.Contact) any { return tagsOf(c) }},
	"createdAt":       {"created_at", kindTime, func(c *domain.Contact) any { return c.CreatedAt }},
	"updatedAt":       {"updated_at", kindTime, func(c *domain.Contact) any { return c.UpdatedAt }},
	"lastContactedAt": {"last_contacted_at", kindTime, func(c *domain.Contact) any { return optionalTime(c.LastContactedAt) }},
}

type ecommerceField struct {
	kind fieldKind
	get  func(ed *domain.EcommerceData) any
}

var ecommerceFields = map[string]ecommerceField{
	"totalOrders":       {kindNumber, func(ed *domain.EcommerceData) any { return ed.TotalOrders }},
	"totalSpent":        {kindNumber, func(ed *domain.EcommerceData) any { return ed.TotalSpent }},
	"averageOrderValue": {kindNumber, func(ed *domain.EcommerceData) any { return ed.AverageOrderValue }},
	"lastOrderDate":     {kindTime, func(ed *domain.EcommerceData) any { return optionalTime(ed.LastOrderDate) }},
	"currency": {kindText, func(ed *domain.EcommerceData) any {
		if ed.Currency == "" {
			return nil
		}
		return ed.Currency
	}},
}

// resolveField applies the alias table, then splits the path on dots.
// The first segment names a top-level attribute and the rest index into
// a nested object.
func resolveField(raw string) (*field, error) {
	path := strings.TrimSpace(raw)
	if canonical, ok := aliases[path]; ok {
		path = canonical
	}

	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("malformed field path %q", raw)
		}
	}

	head, rest := segments[0], segments[1:]

	if cf, ok := topLevel[head]; ok {
		if len(rest) > 0 {
			return nil, fmt.Errorf("field %q has no nested attributes", head)
		}
		return &field{path: path, kind: cf.kind, column: cf.column, get: cf.get}, nil
	}

	switch head {
	case "ecommerceData":
		if len(rest) != 1 {
			return nil, fmt.Errorf("unknown ecommerce field %q", path)
		}
		ef, ok := ecommerceFields[rest[0]]
		if !ok {
			return nil, fmt.Errorf("unknown ecommerce field %q", path)
		}
		return &field{
			path:     path,
			kind:     ef.kind,
			column:   "ecommerce_data",
			jsonPath: rest,
			get: func(c *domain.Contact) any {
				if c.EcommerceData == nil {
					return nil
				}
				return ef.get(c.EcommerceData)
			},
		}, nil

	case "customFields":
		if len(rest) == 0 {
			return nil, fmt.Errorf("customFields needs a key")
		}
		keys := append([]string(nil), rest...)
		return &field{
			path:     path,
			kind:     kindDynamic,
			column:   "custom_fields",
			jsonPath: keys,
			get: func(c *domain.Contact) any {
				return lookupNested(c.CustomFields, keys)
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown field %q", raw)
}

// lookupNested walks nested maps. A missing key or a non-object in the
// middle of the path yields nil.
func lookupNested(m map[string]any, keys []string) any {
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[k]
		if !ok {
			return nil
		}
	}
	return cur
}

func tagsOf(c *domain.Contact) []string {
	if c.Tags == nil {
		return []string{}
	}
	return c.Tags
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
