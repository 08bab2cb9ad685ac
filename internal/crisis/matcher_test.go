package crisis

import (
	"testing"

	"github.com/amparo-app/amparo/internal/storage"
)

func testRules() []storage.CrisisRule {
	return []storage.CrisisRule{
		{ID: 1, Keywords: []string{"suicídio", "me matar"}, Severity: 10, Response: "Você não está sozinho...", RequiresIntervention: true},
		{ID: 2, Keywords: []string{"recair", "recaída"}, Severity: 6, Response: "Vontade de usar é passageira."},
		{ID: 3, Keywords: []string{"sozinho", "ninguém"}, Severity: 3, Response: "Estamos aqui com você."},
	}
}

func TestMatch_CaseInsensitive(t *testing.T) {
	m := Matcher{}

	cases := []struct {
		name string
		text string
		want int64
	}{
		{"lowercase", "estou pensando em suicídio", 1},
		{"uppercase", "ESTOU PENSANDO EM SUICÍDIO", 1},
		{"mixed", "acho que vou ReCaIr hoje", 2},
		{"multiword keyword", "quero me matar", 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, ok := m.Match(tc.text, testRules())
			if !ok {
				t.Fatalf("Match(%q) found no rule", tc.text)
			}
			if rule.ID != tc.want {
				t.Errorf("Match(%q) = rule %d, want %d", tc.text, rule.ID, tc.want)
			}
		})
	}
}

func TestMatch_NoMatch(t *testing.T) {
	m := Matcher{}

	for _, text := range []string{"Como foi seu dia?", "", "tudo bem por aqui"} {
		if _, ok := m.Match(text, testRules()); ok {
			t.Errorf("Match(%q) matched, want no match", text)
		}
	}
}

// TestMatch_FirstMatchWins pins the precedence contract: when two rules both
// match, the one returned first by the store wins regardless of severity.
func TestMatch_FirstMatchWins(t *testing.T) {
	rules := []storage.CrisisRule{
		{ID: 1, Keywords: []string{"sozinho"}, Severity: 3, Response: "low"},
		{ID: 2, Keywords: []string{"me sinto sozinho"}, Severity: 9, Response: "high"},
	}

	rule, ok := Matcher{}.Match("hoje me sinto sozinho de novo", rules)
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.ID != 1 {
		t.Errorf("got rule %d (severity %d), want rule 1 — first match must win over severity", rule.ID, rule.Severity)
	}
}

func TestMatch_SeverityPriority(t *testing.T) {
	rules := []storage.CrisisRule{
		{ID: 1, Keywords: []string{"sozinho"}, Severity: 3, Response: "low"},
		{ID: 2, Keywords: []string{"me sinto sozinho"}, Severity: 9, Response: "high"},
	}

	rule, ok := Matcher{SeverityPriority: true}.Match("hoje me sinto sozinho de novo", rules)
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.ID != 2 {
		t.Errorf("got rule %d, want rule 2 (highest severity)", rule.ID)
	}
}

// TestMatch_NoNegationHandling documents the accepted false-positive bias:
// a negated phrase still triggers the rule.
func TestMatch_NoNegationHandling(t *testing.T) {
	rule, ok := Matcher{}.Match("não vou recair", testRules())
	if !ok {
		t.Fatal("expected negated phrase to still match")
	}
	if rule.ID != 2 {
		t.Errorf("got rule %d, want 2", rule.ID)
	}
}

func TestMatch_EmptyKeywordIgnored(t *testing.T) {
	rules := []storage.CrisisRule{
		{ID: 1, Keywords: []string{""}, Severity: 5, Response: "r"},
	}

	// An empty keyword would otherwise match every message.
	if _, ok := (Matcher{}).Match("qualquer coisa", rules); ok {
		t.Error("empty keyword must not match")
	}
}
