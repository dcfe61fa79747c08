package campaign

import (
	"strings"

	"herald-go/internal/domain"
)

// Render substitutes contact placeholders in the subject and body.
// Supported: {{name}}, {{first_name}}, {{email}}, {{phone}}.
func Render(content domain.Content, contact *domain.Contact) domain.Content {
	r := strings.NewReplacer(
		"{{name}}", contact.Name,
		"{{first_name}}", contact.FirstName(),
		"{{email}}", contact.Email,
		"{{phone}}", contact.Phone,
	)
	content.Subject = r.Replace(content.Subject)
	content.Body = r.Replace(content.Body)
	return content
}
