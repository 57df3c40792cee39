// Package jsonutil extracts JSON payloads from model text, tolerating
// fenced code blocks, prose around the payload, and mildly malformed
// output.
package jsonutil

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/quailyquaily/uniai"
)

var (
	ErrEmptyInput       = errors.New("empty json input")
	ErrNoJSONCandidates = errors.New("no json candidates")
)

// FindJSONPayload returns the first substring of text that parses as
// JSON. Candidates come from the raw text plus uniai's snippet
// collectors; each candidate is also tried stripped of non-JSON lines
// and after JSON repair.
func FindJSONPayload(text string) ([]byte, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, ErrEmptyInput
	}

	var lastErr error
	for _, cand := range gatherCandidates(raw) {
		for _, variant := range repairVariants(cand) {
			var tmp any
			if err := json.Unmarshal([]byte(variant), &tmp); err != nil {
				lastErr = err
				continue
			}
			return []byte(variant), nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoJSONCandidates
}

// DecodeWithFallback finds a JSON payload in text and unmarshals it
// into dst.
func DecodeWithFallback(text string, dst any) error {
	data, err := FindJSONPayload(text)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func gatherCandidates(raw string) []string {
	dedup := newDedup(8)
	dedup.add(raw)
	if cands, err := uniai.CollectJSONCandidates(raw); err == nil {
		for _, c := range cands {
			dedup.add(c)
		}
	}
	for _, c := range uniai.FindJSONSnippets(raw) {
		dedup.add(c)
	}
	return dedup.out
}

// repairVariants orders the attempts for one candidate: as-is first,
// then stripped, then repaired, then both.
func repairVariants(candidate string) []string {
	dedup := newDedup(4)
	dedup.add(candidate)

	stripped := uniai.StripNonJSONLines(candidate)
	dedup.add(stripped)
	dedup.add(uniai.AttemptJSONRepair(candidate))

	stripped = strings.TrimSpace(stripped)
	if stripped != "" && stripped != candidate {
		dedup.add(uniai.AttemptJSONRepair(stripped))
	}
	return dedup.out
}

type dedupList struct {
	seen map[string]bool
	out  []string
}

func newDedup(capacity int) *dedupList {
	return &dedupList{
		seen: make(map[string]bool, capacity),
		out:  make([]string, 0, capacity),
	}
}

func (d *dedupList) add(s string) {
	s = strings.TrimSpace(s)
	if s == "" || d.seen[s] {
		return
	}
	d.seen[s] = true
	d.out = append(d.out, s)
}
