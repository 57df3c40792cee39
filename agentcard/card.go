// Package agentcard loads agent definitions from markdown files: a
// YAML frontmatter block (name, model, tools, handoffs, output schema)
// followed by the agent's instructions as the document body.
package agentcard

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const StatusDraft = "draft"

type frontmatter struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Model        string         `yaml:"model"`
	Status       string         `yaml:"status"`
	Tools        []string       `yaml:"tools"`
	Handoffs     []string       `yaml:"handoffs"`
	OutputSchema map[string]any `yaml:"output_schema"`
}

// Card is one parsed agent definition.
type Card struct {
	Name        string
	Description string
	Model       string
	Status      string

	// Tools names function tools from the shared registry this agent
	// may call. Empty means all registered tools.
	Tools []string

	// Handoffs names other cards this agent may transfer control to.
	Handoffs []string

	// OutputSchema, when present, is the JSON schema the agent's final
	// output must satisfy.
	OutputSchema json.RawMessage

	Instructions string

	// Path is the file the card was loaded from, when applicable.
	Path string
}

// Draft reports whether the card is marked draft and should be skipped
// when building a roster.
func (c Card) Draft() bool {
	return strings.EqualFold(strings.TrimSpace(c.Status), StatusDraft)
}

// Parse splits a card document into frontmatter and instructions. The
// frontmatter block is YAML between a leading "---" line and the next
// "---" line; everything after it is the instructions body.
func Parse(contents string) (Card, error) {
	sc := bufio.NewScanner(strings.NewReader(contents))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "---" {
		return Card{}, fmt.Errorf("agent card is missing frontmatter")
	}

	var yamlLines []string
	foundEnd := false
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "---" {
			foundEnd = true
			break
		}
		yamlLines = append(yamlLines, line)
	}
	if !foundEnd {
		return Card{}, fmt.Errorf("agent card frontmatter is not terminated")
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), &fm); err != nil {
		return Card{}, fmt.Errorf("invalid agent card frontmatter: %w", err)
	}
	if strings.TrimSpace(fm.Name) == "" {
		return Card{}, fmt.Errorf("agent card is missing name")
	}

	var body []string
	for sc.Scan() {
		body = append(body, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return Card{}, err
	}

	card := Card{
		Name:         strings.TrimSpace(fm.Name),
		Description:  strings.TrimSpace(fm.Description),
		Model:        strings.TrimSpace(fm.Model),
		Status:       strings.TrimSpace(fm.Status),
		Tools:        dedupeNames(fm.Tools),
		Handoffs:     dedupeNames(fm.Handoffs),
		Instructions: strings.TrimSpace(strings.Join(body, "\n")),
	}
	if len(fm.OutputSchema) > 0 {
		schema, err := json.Marshal(fm.OutputSchema)
		if err != nil {
			return Card{}, fmt.Errorf("invalid output_schema on card %s: %w", card.Name, err)
		}
		card.OutputSchema = schema
	}
	return card, nil
}

// LoadDir parses every .md file in dir. File order is stable
// (lexicographic); draft cards are parsed but kept so callers can list
// them, and are skipped only when a roster is built.
func LoadDir(dir string) ([]Card, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read agent cards dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".md") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	cards := make([]Card, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		b, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, fmt.Errorf("read agent card %s: %w", path, rerr)
		}
		card, perr := Parse(string(b))
		if perr != nil {
			return nil, fmt.Errorf("%s: %w", path, perr)
		}
		card.Path = path
		cards = append(cards, card)
	}
	return cards, nil
}

func dedupeNames(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
