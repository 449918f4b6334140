package openai

import "testing"

func TestParseVariants_PlainArray(t *testing.T) {
	got, err := parseVariants(`["first phrasing", "second phrasing"]`)
	if err != nil {
		t.Fatalf("parseVariants: %v", err)
	}
	if len(got) != 2 || got[0] != "first phrasing" || got[1] != "second phrasing" {
		t.Errorf("unexpected variants: %v", got)
	}
}

func TestParseVariants_FencedBlock(t *testing.T) {
	content := "```json\n[\"alt one\", \"alt two\"]\n```"
	got, err := parseVariants(content)
	if err != nil {
		t.Fatalf("parseVariants: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 variants, got %v", got)
	}
}

func TestParseVariants_DropsBlanks(t *testing.T) {
	got, err := parseVariants(`["keep", "  ", ""]`)
	if err != nil {
		t.Fatalf("parseVariants: %v", err)
	}
	if len(got) != 1 || got[0] != "keep" {
		t.Errorf("expected only the non-blank variant, got %v", got)
	}
}

func TestParseVariants_MalformedJSON(t *testing.T) {
	if _, err := parseVariants("here are some ideas: foo, bar"); err == nil {
		t.Fatal("expected error for non-JSON content")
	}
}
