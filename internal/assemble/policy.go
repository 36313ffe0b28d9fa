// Package assemble turns matcher entries into display blocks. It applies the
// grouping policy of the tool that produced the output and restores the
// original colored text of each matched line.
package assemble

import (
	"iter"

	"github.com/fakeyudi/tuick/internal/matcher"
)

// Policy decides how adjacent entries are merged into blocks.
type Policy int

const (
	// PolicyDefault emits one block per entry.
	PolicyDefault Policy = iota
	// PolicyMypy attaches location-less notes to the following entry of the
	// same file and merges entries sharing a location.
	PolicyMypy
	// PolicyPytest splits the report at section headings and frame
	// separators.
	PolicyPytest
	// PolicyRuff merges runs of informational entries such as the summary.
	PolicyRuff
)

var policyNames = map[Policy]string{
	PolicyDefault: "default",
	PolicyMypy:    "mypy",
	PolicyPytest:  "pytest",
	PolicyRuff:    "ruff",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return "unknown"
}

var toolPolicies = map[string]Policy{
	"mypy":   PolicyMypy,
	"pytest": PolicyPytest,
	"ruff":   PolicyRuff,
}

// PolicyFor returns the grouping policy for a tool name.
func PolicyFor(tool string) Policy {
	if p, ok := toolPolicies[tool]; ok {
		return p
	}
	return PolicyDefault
}

type grouper func(iter.Seq[matcher.Entry]) iter.Seq[matcher.Entry]

func (p Policy) grouper() grouper {
	switch p {
	case PolicyMypy:
		return groupMypy
	case PolicyPytest:
		return groupPytest
	case PolicyRuff:
		return groupRuff
	default:
		return func(entries iter.Seq[matcher.Entry]) iter.Seq[matcher.Entry] { return entries }
	}
}

// Group applies p to entries. Pending groups are flushed before a matcher
// error is passed on, and the error ends the sequence.
func Group(p Policy, entries iter.Seq2[matcher.Entry, error]) iter.Seq2[matcher.Entry, error] {
	return func(yield func(matcher.Entry, error) bool) {
		var matchErr error
		plain := func(yield func(matcher.Entry) bool) {
			for e, err := range entries {
				if err != nil {
					matchErr = err
					return
				}
				if !yield(e) {
					return
				}
			}
		}
		for e := range p.grouper()(plain) {
			if !yield(e, nil) {
				return
			}
		}
		if matchErr != nil {
			yield(matcher.Entry{}, matchErr)
		}
	}
}
