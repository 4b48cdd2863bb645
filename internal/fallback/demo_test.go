package fallback

import (
	"slices"
	"testing"
)

func TestDemoResponder_AnswerFromCategorySet(t *testing.T) {
	d := NewSeededDemoResponder(42)
	for _, q := range []string{"Hello", "services?", "schemes", "documents", "office hours"} {
		text, cat := d.Respond(q)
		if cat != Categorize(q) {
			t.Errorf("Respond(%q) category = %q, want %q", q, cat, Categorize(q))
		}
		if !slices.Contains(Responses(cat), text) {
			t.Errorf("Respond(%q) = %q, not in %q set", q, text, cat)
		}
	}
}

func TestDemoResponder_SameSeedSameAnswers(t *testing.T) {
	a := NewSeededDemoResponder(7)
	b := NewSeededDemoResponder(7)
	for i := 0; i < 20; i++ {
		ta, _ := a.Respond("tell me something")
		tb, _ := b.Respond("tell me something")
		if ta != tb {
			t.Fatalf("draw %d differs: %q vs %q", i, ta, tb)
		}
	}
}

func TestDemoResponder_CoversWholeList(t *testing.T) {
	d := NewSeededDemoResponder(1)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		text, _ := d.Respond("unrelated question")
		seen[text] = true
	}
	if len(seen) != len(Responses(CategoryDefault)) {
		t.Errorf("saw %d distinct default answers, want %d", len(seen), len(Responses(CategoryDefault)))
	}
}

func TestResponses_NonEmptyForEveryCategory(t *testing.T) {
	for _, c := range []Category{CategoryGreeting, CategoryServices, CategorySchemes, CategoryDocuments, CategoryDefault} {
		list := Responses(c)
		if len(list) == 0 {
			t.Errorf("no responses for %q", c)
		}
		for _, r := range list {
			if r == "" {
				t.Errorf("empty response in %q", c)
			}
		}
	}
}

func TestResponses_ReturnsCopy(t *testing.T) {
	list := Responses(CategoryGreeting)
	list[0] = "mutated"
	if Responses(CategoryGreeting)[0] == "mutated" {
		t.Error("Responses exposed internal slice")
	}
}

func TestMode(t *testing.T) {
	m := NewMode(false)
	if m.Enhanced() || m.Name() != "demo" {
		t.Errorf("NewMode(false) = %v/%q", m.Enhanced(), m.Name())
	}
	m.SetEnhanced(true)
	if !m.Enhanced() || m.Name() != "enhanced" {
		t.Errorf("after SetEnhanced(true) = %v/%q", m.Enhanced(), m.Name())
	}
}
