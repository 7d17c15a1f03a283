package domain

import (
	"errors"
	"slices"
	"strings"
)

// ErrFactIndex is returned when a fact edit addresses a position that does not exist.
var ErrFactIndex = errors.New("fact index out of range")

// PermanentContext is the ordered list of long-lived user facts sent with
// every request. It never contains blank or duplicate entries.
//
// All methods return a new slice and leave the receiver untouched.
type PermanentContext []string

// NormalizeFacts trims every fact and drops blanks and repeats, keeping the
// first occurrence.
func NormalizeFacts(facts []string) PermanentContext {
	out := make(PermanentContext, 0, len(facts))
	for _, f := range facts {
		f = strings.TrimSpace(f)
		if f == "" || slices.Contains(out, f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ParseFacts splits a newline separated block into facts.
func ParseFacts(content string) PermanentContext {
	return NormalizeFacts(strings.Split(content, "\n"))
}

// Add appends fact. The boolean is false when fact was blank or already known.
func (c PermanentContext) Add(fact string) (PermanentContext, bool) {
	fact = strings.TrimSpace(fact)
	if fact == "" || slices.Contains(c, fact) {
		return slices.Clone(c), false
	}
	return append(slices.Clone(c), fact), true
}

// Edit replaces the fact at index i. A blank replacement deletes the entry,
// and so does a replacement that duplicates another fact.
func (c PermanentContext) Edit(i int, text string) (PermanentContext, error) {
	if i < 0 || i >= len(c) {
		return slices.Clone(c), ErrFactIndex
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return c.Delete(i)
	}
	for j, f := range c {
		if j != i && f == text {
			return c.Delete(i)
		}
	}
	out := slices.Clone(c)
	out[i] = text
	return out, nil
}

// Delete removes the fact at index i.
func (c PermanentContext) Delete(i int) (PermanentContext, error) {
	if i < 0 || i >= len(c) {
		return slices.Clone(c), ErrFactIndex
	}
	return slices.Delete(slices.Clone(c), i, i+1), nil
}

// Instruction joins the facts into the single string sent to the backend.
func (c PermanentContext) Instruction() string {
	return strings.Join(c, "\n")
}
