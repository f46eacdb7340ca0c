package vocab

import (
	"testing"
)

func TestParseCandidates(t *testing.T) {
	raw := `{
		"vocabulary": [
			{"word": "日本語", "reading": "にほんご", "meaning_kr": "일본어", "pos": "명사", "level": "N5"},
			{"word": "勉強", "reading": "べんきょう", "meaning_kr": "공부", "pos": "명사", "level": "N4", "example": "日本語を勉強しています"}
		]
	}`

	candidates, err := parseCandidates(raw)
	if err != nil {
		t.Fatalf("parseCandidates failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Surface != "日本語" || candidates[0].Level != LevelN5 || candidates[0].MeaningKR != "일본어" {
		t.Errorf("Unexpected first candidate: %+v", candidates[0])
	}
	if candidates[1].Surface != "勉強" || candidates[1].Level != LevelN4 {
		t.Errorf("Unexpected second candidate: %+v", candidates[1])
	}
}

func TestParseCandidatesFiltersFunctionWords(t *testing.T) {
	// the model over-extracted: particles and auxiliary fragments must be
	// dropped no matter what the response claims
	raw := `{
		"vocabulary": [
			{"word": "日本語", "reading": "にほんご", "meaning_kr": "일본어", "level": "N5"},
			{"word": "を", "reading": "を", "meaning_kr": "을/를", "pos": "조사", "level": "N5"},
			{"word": "しています", "reading": "しています", "meaning_kr": "하고 있습니다", "level": "N5"},
			{"word": "勉強", "reading": "べんきょう", "meaning_kr": "공부", "level": "N4"},
			{"word": "食べる", "reading": "たべる", "meaning_kr": "먹다", "pos": "助詞", "level": "N5"}
		]
	}`

	candidates, err := parseCandidates(raw)
	if err != nil {
		t.Fatalf("parseCandidates failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("Expected function words filtered, got %d candidates", len(candidates))
	}
	for _, c := range candidates {
		if c.Surface == "を" || c.Surface == "しています" {
			t.Errorf("Function word leaked through: %s", c.Surface)
		}
	}
}

func TestParseCandidatesToleratesMarkdownFence(t *testing.T) {
	raw := "```json\n{\"vocabulary\": [{\"word\": \"水\", \"reading\": \"みず\", \"meaning_kr\": \"물\", \"level\": \"N5\"}]}\n```"

	candidates, err := parseCandidates(raw)
	if err != nil {
		t.Fatalf("parseCandidates failed on fenced JSON: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Surface != "水" {
		t.Errorf("Unexpected candidates: %+v", candidates)
	}
}

func TestParseCandidatesToleratesBareArray(t *testing.T) {
	raw := `[{"word": "水", "reading": "みず", "meaning_kr": "물", "level": "N5"}]`

	candidates, err := parseCandidates(raw)
	if err != nil {
		t.Fatalf("parseCandidates failed on bare array: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("Expected 1 candidate, got %d", len(candidates))
	}
}

func TestParseCandidatesSkipsMalformedItems(t *testing.T) {
	raw := `{"vocabulary": [
		{"word": "", "reading": "x"},
		{"reading": "no surface at all"},
		{"word": "勉強", "level": "not-a-level"}
	]}`

	candidates, err := parseCandidates(raw)
	if err != nil {
		t.Fatalf("parseCandidates failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Expected only the one usable item, got %d", len(candidates))
	}
	if candidates[0].Level != LevelUnclassified {
		t.Errorf("Unknown level string should parse as unclassified, got %s", candidates[0].Level)
	}
}

func TestParseCandidatesMalformedResponse(t *testing.T) {
	for _, raw := range []string{"", "not json at all", `{"vocabulary": "oops"}`} {
		if _, err := parseCandidates(raw); err == nil {
			t.Errorf("Expected error for %q", raw)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"N5":      LevelN5,
		"n1":      LevelN1,
		" N3 ":    LevelN3,
		"N6":      LevelUnclassified,
		"":        LevelUnclassified,
		"beginner": LevelUnclassified,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestIsFunctionWord(t *testing.T) {
	if !isFunctionWord("を", "") {
		t.Error("を is a particle")
	}
	if !isFunctionWord("です", "") {
		t.Error("です is an auxiliary fragment")
	}
	if !isFunctionWord("新しい", "助動詞") {
		t.Error("POS tagging should override the surface form")
	}
	if isFunctionWord("勉強", "명사") {
		t.Error("勉強 is real vocabulary")
	}
}
