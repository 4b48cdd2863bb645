package fallback

import "strings"

// Category is the coarse topic a query falls into when only canned answers
// are available.
type Category string

const (
	CategoryGreeting  Category = "greeting"
	CategoryServices  Category = "services"
	CategorySchemes   Category = "schemes"
	CategoryDocuments Category = "documents"
	CategoryDefault   Category = "default"
)

// Checked in this order; the first category with a matching keyword wins.
var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryGreeting, []string{"hello", "hi", "hey", "greetings"}},
	{CategoryServices, []string{"service", "services", "help", "assistance"}},
	{CategorySchemes, []string{"scheme", "schemes", "welfare", "benefits", "program"}},
	{CategoryDocuments, []string{"document", "certificate", "documents", "certificates"}},
}

// Categorize classifies text by substring keyword match on its lower-cased
// form. "Hi, I need a certificate" is a greeting, not a documents query.
func Categorize(text string) Category {
	lower := strings.ToLower(text)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(lower, w) {
				return ck.category
			}
		}
	}
	return CategoryDefault
}
