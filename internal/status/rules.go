// Package status classifies terminal snapshots of agent sessions into the
// closed status set and drives the polling detector that reconciles the
// registry with what tmux actually shows.
package status

import (
	"strings"

	"github.com/brianly1003/sw/internal/domain"
)

// Rule maps a set of textual markers to the status they indicate. Rules
// are evaluated as an ordered list; earlier rules break ties when two
// markers end at the same position in a snapshot.
type Rule struct {
	Status  domain.Status
	Markers []string
}

// DefaultRules returns the built-in marker table for the claude CLI, in
// priority order. Approval prompts outrank generic input prompts because
// they usually also look like input prompts; busy markers rank last.
func DefaultRules() []Rule {
	return []Rule{
		{
			Status: domain.StatusWaitingApproval,
			Markers: []string{
				"do you want to",
				"would you like to",
				"(y/n)",
			},
		},
		{
			Status: domain.StatusWaitingInput,
			Markers: []string{
				"? for shortcuts",
				"waiting for your input",
			},
		},
		{
			Status: domain.StatusRunning,
			Markers: []string{
				"esc to interrupt",
				"ctrl+c to interrupt",
			},
		},
	}
}

// RulesWithOverrides replaces a rule's marker set when the config supplies
// one, keeping the built-in set otherwise.
func RulesWithOverrides(approval, input, busy []string) []Rule {
	rules := DefaultRules()
	for i := range rules {
		switch rules[i].Status {
		case domain.StatusWaitingApproval:
			if len(approval) > 0 {
				rules[i].Markers = approval
			}
		case domain.StatusWaitingInput:
			if len(input) > 0 {
				rules[i].Markers = input
			}
		case domain.StatusRunning:
			if len(busy) > 0 {
				rules[i].Markers = busy
			}
		}
	}
	return rules
}

// Classify determines a session's next status from a pane snapshot.
//
// The marker whose last occurrence sits nearest the end of the snapshot
// wins; older matches higher up are likely stale scrollback. When no
// marker matches, fresh output since the previous snapshot means the
// agent is working, and an unchanged or garbled snapshot carries no
// information, so the previous status stands. Dead is terminal and never
// reclassified.
func Classify(rules []Rule, prev domain.Status, prevSnapshot, snapshot string) domain.Status {
	if prev == domain.StatusDead {
		return domain.StatusDead
	}

	lowered := strings.ToLower(snapshot)
	best := -1
	result := prev
	for _, rule := range rules {
		for _, marker := range rule.Markers {
			idx := strings.LastIndex(lowered, strings.ToLower(marker))
			if idx < 0 {
				continue
			}
			end := idx + len(marker)
			if end > best {
				best = end
				result = rule.Status
			}
		}
	}
	if best >= 0 {
		return result
	}

	if snapshot != prevSnapshot {
		return domain.StatusRunning
	}
	return prev
}
