package tmux

import (
	"context"
	"errors"
	"reflect"
	"testing"

	swexec "github.com/brianly1003/sw/internal/exec"
)

func TestBuildAgentCommand(t *testing.T) {
	tests := []struct {
		name string
		spec LaunchSpec
		want []string
	}{
		{
			name: "plain",
			spec: LaunchSpec{},
			want: []string{"claude"},
		},
		{
			name: "skip permissions",
			spec: LaunchSpec{SkipPermissions: true},
			want: []string{"claude", "--dangerously-skip-permissions"},
		},
		{
			name: "continue with prompt",
			spec: LaunchSpec{Continue: true, InitialPrompt: "fix the tests"},
			want: []string{"claude", "--continue", "fix the tests"},
		},
		{
			name: "everything",
			spec: LaunchSpec{SkipPermissions: true, Continue: true, InitialPrompt: "go"},
			want: []string{"claude", "--dangerously-skip-permissions", "--continue", "go"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildAgentCommand(tt.spec); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("BuildAgentCommand = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSessionArgs(t *testing.T) {
	m := swexec.NewMockExecutor()
	c := NewController(m)

	err := c.NewSession(context.Background(), "sw-proj-auth-1", LaunchSpec{
		WorkDir:         "/home/u/proj-auth",
		SkipPermissions: true,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	calls := m.Calls()
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	want := []string{
		"new-session", "-d",
		"-s", "sw-proj-auth-1",
		"-c", "/home/u/proj-auth",
		"-e", "SW_SESSION_NAME=sw-proj-auth-1",
		"-e", "TERM=xterm-256color",
		"claude", "--dangerously-skip-permissions",
	}
	if !reflect.DeepEqual(calls[0].Args, want) {
		t.Errorf("args = %v\nwant  %v", calls[0].Args, want)
	}
}

func TestNextSessionNameSkipsTaken(t *testing.T) {
	m := swexec.NewMockExecutor()
	m.AddPrefixMatch("tmux", []string{"list-sessions"}, swexec.MockResponse{
		Stdout: []byte("sw-proj-auth-1\nsw-proj-auth-2\nsw-other-1\nuser-session\n"),
	})
	c := NewController(m)

	name, err := c.NextSessionName(context.Background(), "proj-auth")
	if err != nil {
		t.Fatalf("NextSessionName: %v", err)
	}
	if name != "sw-proj-auth-3" {
		t.Errorf("name = %q, want sw-proj-auth-3", name)
	}
}

func TestNextSessionNameNoServer(t *testing.T) {
	m := swexec.NewMockExecutor()
	m.AddPrefixMatch("tmux", []string{"list-sessions"}, swexec.MockResponse{
		Stderr: []byte("no server running"),
		Err:    errors.New("exit status 1"),
	})
	c := NewController(m)

	name, err := c.NextSessionName(context.Background(), "proj-auth")
	if err != nil {
		t.Fatalf("NextSessionName: %v", err)
	}
	if name != "sw-proj-auth-1" {
		t.Errorf("name = %q, want sw-proj-auth-1", name)
	}
}

func TestListSessionsFiltersPrefix(t *testing.T) {
	m := swexec.NewMockExecutor()
	m.AddPrefixMatch("tmux", []string{"list-sessions"}, swexec.MockResponse{
		Stdout: []byte("sw-proj-1\nmysession\nswarm-thing\nsw-other-2\n"),
	})
	c := NewController(m)

	names, err := c.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	want := []string{"sw-proj-1", "sw-other-2"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestHasSessionExactTarget(t *testing.T) {
	m := swexec.NewMockExecutor()
	c := NewController(m)

	if !c.HasSession(context.Background(), "sw-proj-1") {
		t.Error("mock success must report session present")
	}
	calls := m.Calls()
	if calls[0].Args[2] != "=sw-proj-1" {
		t.Errorf("target = %q, want exact-match prefix", calls[0].Args[2])
	}
}

func TestKillSessionSkipsDead(t *testing.T) {
	m := swexec.NewMockExecutor()
	m.AddPrefixMatch("tmux", []string{"has-session"}, swexec.MockResponse{
		Err: errors.New("exit status 1"),
	})
	c := NewController(m)

	if err := c.KillSession(context.Background(), "sw-proj-1"); err != nil {
		t.Fatalf("KillSession on dead session: %v", err)
	}
	for _, call := range m.Calls() {
		if call.Args[0] == "kill-session" {
			t.Error("kill-session must not run for a dead session")
		}
	}
}

func TestCapturePaneArgs(t *testing.T) {
	m := swexec.NewMockExecutor()
	m.AddPrefixMatch("tmux", []string{"capture-pane"}, swexec.MockResponse{
		Stdout: []byte("some pane output\n"),
	})
	c := NewController(m)

	out, err := c.CapturePane(context.Background(), "sw-proj-1", 200)
	if err != nil {
		t.Fatalf("CapturePane: %v", err)
	}
	if out != "some pane output\n" {
		t.Errorf("out = %q", out)
	}
	want := []string{"capture-pane", "-t", "=sw-proj-1", "-p", "-S", "-200"}
	if !reflect.DeepEqual(m.Calls()[0].Args, want) {
		t.Errorf("args = %v, want %v", m.Calls()[0].Args, want)
	}
}
