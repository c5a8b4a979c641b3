package status

import (
	"testing"

	"github.com/brianly1003/sw/internal/domain"
)

func TestClassifyMarkers(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		name     string
		prev     domain.Status
		prevSnap string
		snap     string
		want     domain.Status
	}{
		{
			name: "busy marker means running",
			prev: domain.StatusStarting,
			snap: "Thinking...\nesc to interrupt",
			want: domain.StatusRunning,
		},
		{
			name: "approval prompt",
			prev: domain.StatusRunning,
			snap: "Edit main.go?\nDo you want to proceed? (y/n)",
			want: domain.StatusWaitingApproval,
		},
		{
			name: "input prompt",
			prev: domain.StatusRunning,
			snap: "Done.\n> \n? for shortcuts",
			want: domain.StatusWaitingInput,
		},
		{
			name: "last marker wins over stale scrollback",
			prev: domain.StatusRunning,
			snap: "Do you want to proceed? (y/n)\nyes\nworking on it\nesc to interrupt",
			want: domain.StatusRunning,
		},
		{
			name: "approval outranks input lower in pane",
			prev: domain.StatusRunning,
			snap: "? for shortcuts\n...\nDo you want to run this command?",
			want: domain.StatusWaitingApproval,
		},
		{
			name:     "no marker but fresh output means running",
			prev:     domain.StatusStarting,
			prevSnap: "",
			snap:     "booting the agent\n",
			want:     domain.StatusRunning,
		},
		{
			name:     "no marker and unchanged snapshot keeps status",
			prev:     domain.StatusWaitingInput,
			prevSnap: "idle prompt text",
			snap:     "idle prompt text",
			want:     domain.StatusWaitingInput,
		},
		{
			name: "markers match case-insensitively",
			prev: domain.StatusRunning,
			snap: "DO YOU WANT TO continue?",
			want: domain.StatusWaitingApproval,
		},
		{
			name:     "dead is terminal",
			prev:     domain.StatusDead,
			snap:     "esc to interrupt",
			want:     domain.StatusDead,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(rules, tt.prev, tt.prevSnap, tt.snap)
			if got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
			// Idempotence: the same snapshot twice never moves the status
			// a second time.
			again := Classify(rules, got, tt.snap, tt.snap)
			if again != got {
				t.Errorf("second Classify moved %q -> %q", got, again)
			}
		})
	}
}

func TestClassifyGarbledPreservesStatus(t *testing.T) {
	rules := DefaultRules()
	prev := domain.StatusWaitingApproval
	snap := "\x1b[2J\x1b[H\xff\xfe partial repai"
	got := Classify(rules, prev, snap, snap)
	if got != prev {
		t.Errorf("garbled unchanged snapshot moved %q -> %q", prev, got)
	}
}

func TestRulesWithOverrides(t *testing.T) {
	rules := RulesWithOverrides([]string{"custom approval?"}, nil, nil)

	got := Classify(rules, domain.StatusRunning, "", "custom approval?")
	if got != domain.StatusWaitingApproval {
		t.Errorf("override marker not applied, got %q", got)
	}
	// Built-in approval markers are replaced, so the default text now has
	// no marker and fresh output reads as running.
	got = Classify(rules, domain.StatusRunning, "x", "Do you want to proceed?")
	if got != domain.StatusRunning {
		t.Errorf("replaced marker still matched, got %q", got)
	}
	// Untouched rule sets keep their defaults.
	got = Classify(rules, domain.StatusRunning, "", "? for shortcuts")
	if got != domain.StatusWaitingInput {
		t.Errorf("default input marker lost, got %q", got)
	}
}
