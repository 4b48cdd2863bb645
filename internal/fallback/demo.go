package fallback

import (
	"math/rand/v2"
	"sync"
	"time"
)

var demoResponses = map[Category][]string{
	CategoryGreeting: {
		"Hello! Welcome to MSPSDC Chat Assistant. How can I help you today?",
		"Hi there! I'm here to assist you with Meghalaya State Public Services. What can I help you with?",
		"Greetings! I'm your AI assistant for MSPSDC. How may I assist you?",
	},
	CategoryServices: {
		"MSPSDC offers various public services including document verification, certificate issuance, and citizen support. Which specific service are you interested in?",
		"We provide comprehensive public services through our digital platform. Our main services include document verification, application processing, and citizen grievance handling.",
	},
	CategorySchemes: {
		"Meghalaya has several welfare schemes for citizens including healthcare, education, and livelihood support programs. Would you like to know about any specific scheme?",
		"Our state offers various social welfare schemes. I can provide information about healthcare schemes, education scholarships, and livelihood programs.",
	},
	CategoryDocuments: {
		"For document-related services, you can apply for birth certificates, caste certificates, income certificates, and other important documents through our portal.",
		"Document services include application for various certificates and verifications. You can submit applications online and track their status.",
	},
	CategoryDefault: {
		"I understand you're asking about MSPSDC services. Could you please be more specific about what information you need?",
		"That's a great question about our services. Let me help you with information on that topic.",
		"I'd be happy to assist you with MSPSDC-related queries. Could you provide more details about what you're looking for?",
		"Thank you for your question. For more detailed information, you might want to visit our official website or contact our helpdesk.",
	},
}

// DemoResponder picks a canned answer for a query's category. It is the
// last tier and cannot fail.
type DemoResponder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDemoResponder creates a DemoResponder drawing from rng. A nil rng is
// seeded from the clock; tests pass a fixed seed.
func NewDemoResponder(rng *rand.Rand) *DemoResponder {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &DemoResponder{rng: rng}
}

// NewSeededDemoResponder is shorthand for a deterministic responder.
func NewSeededDemoResponder(seed uint64) *DemoResponder {
	return NewDemoResponder(rand.New(rand.NewPCG(seed, seed)))
}

// Respond classifies text and returns one of that category's answers.
func (d *DemoResponder) Respond(text string) (string, Category) {
	cat := Categorize(text)
	list := demoResponses[cat]
	d.mu.Lock()
	i := d.rng.IntN(len(list))
	d.mu.Unlock()
	return list[i], cat
}

// Responses returns a copy of the canned answers for a category.
func Responses(cat Category) []string {
	return append([]string(nil), demoResponses[cat]...)
}
