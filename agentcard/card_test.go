package agentcard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quailyquaily/turnstile/tools"
)

const researcherCard = `---
name: researcher
description: Looks things up.
model: gpt-4o-mini
tools:
  - search
  - search
handoffs:
  - writer
output_schema:
  type: object
  required:
    - summary
---

You are a researcher. Cite your sources.
`

func TestParse_FullCard(t *testing.T) {
	card, err := Parse(researcherCard)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if card.Name != "researcher" {
		t.Errorf("expected name researcher, got %q", card.Name)
	}
	if card.Model != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini, got %q", card.Model)
	}
	if len(card.Tools) != 1 || card.Tools[0] != "search" {
		t.Errorf("expected deduped tools [search], got %v", card.Tools)
	}
	if len(card.Handoffs) != 1 || card.Handoffs[0] != "writer" {
		t.Errorf("expected handoffs [writer], got %v", card.Handoffs)
	}
	if !strings.Contains(string(card.OutputSchema), `"required":["summary"]`) {
		t.Errorf("expected output schema with required summary, got %s", card.OutputSchema)
	}
	if !strings.HasPrefix(card.Instructions, "You are a researcher.") {
		t.Errorf("unexpected instructions: %q", card.Instructions)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"no frontmatter":      "just a body",
		"unterminated":        "---\nname: x\nbody without end",
		"missing name":        "---\nmodel: m\n---\nbody",
		"invalid frontmatter": "---\nname: [\n---\nbody",
	}
	for label, contents := range cases {
		if _, err := Parse(contents); err == nil {
			t.Errorf("%s: expected an error", label)
		}
	}
}

func TestLoadDir_SkipsNonMarkdown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b_writer.md", "---\nname: writer\n---\nYou write.")
	writeFile(t, dir, "a_researcher.md", researcherCard)
	writeFile(t, dir, "notes.txt", "not a card")

	cards, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}
	if cards[0].Name != "researcher" || cards[1].Name != "writer" {
		t.Errorf("expected lexicographic file order, got %s, %s", cards[0].Name, cards[1].Name)
	}
}

type cardTestTool struct{ name string }

func (t *cardTestTool) Name() string            { return t.name }
func (t *cardTestTool) Description() string     { return "test tool" }
func (t *cardTestTool) ParameterSchema() string { return `{"type":"object"}` }
func (t *cardTestTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	return "ok", nil
}

func TestBuildRoster_LinksHandoffsAndRestrictsTools(t *testing.T) {
	shared := tools.NewRegistry()
	shared.Register(&cardTestTool{name: "search"})
	shared.Register(&cardTestTool{name: "calc"})

	cards := []Card{
		mustParse(t, researcherCard),
		mustParse(t, "---\nname: writer\n---\nYou write."),
		mustParse(t, "---\nname: wip\nstatus: draft\n---\nNot ready."),
	}

	roster, err := BuildRoster(cards, shared, "default-model")
	if err != nil {
		t.Fatalf("BuildRoster: %v", err)
	}
	if _, ok := roster["wip"]; ok {
		t.Error("draft cards must not enter the roster")
	}

	researcher := roster["researcher"]
	if researcher == nil {
		t.Fatal("missing researcher agent")
	}
	if _, ok := researcher.Tools.Get("search"); !ok {
		t.Error("researcher should see its named tool")
	}
	if _, ok := researcher.Tools.Get("calc"); ok {
		t.Error("researcher must not see tools its card does not name")
	}
	if len(researcher.Handoffs) != 1 || researcher.Handoffs[0].Target != roster["writer"] {
		t.Errorf("expected researcher to hand off to writer, got %+v", researcher.Handoffs)
	}

	writer := roster["writer"]
	if writer.Model != "default-model" {
		t.Errorf("expected default model fallback, got %q", writer.Model)
	}
	if _, ok := writer.Tools.Get("calc"); !ok {
		t.Error("a card without a tool list shares the full registry")
	}
}

func TestBuildRoster_UnknownReferences(t *testing.T) {
	shared := tools.NewRegistry()

	_, err := BuildRoster([]Card{mustParse(t, "---\nname: a\nhandoffs: [ghost]\n---\nx")}, shared, "m")
	if err == nil || !strings.Contains(err.Error(), "unknown agent ghost") {
		t.Errorf("expected unknown handoff error, got %v", err)
	}

	_, err = BuildRoster([]Card{mustParse(t, "---\nname: a\ntools: [ghost]\n---\nx")}, shared, "m")
	if err == nil || !strings.Contains(err.Error(), "unknown tool: ghost") {
		t.Errorf("expected unknown tool error, got %v", err)
	}
}

func mustParse(t *testing.T, contents string) Card {
	t.Helper()
	card, err := Parse(contents)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return card
}

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
}
