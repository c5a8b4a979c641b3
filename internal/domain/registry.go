package domain

import "time"

// Session is one tmux session bound to a worktree. The tmux session name
// is the globally unique handle; ID is the short stable identifier used in
// the registry and CLI.
type Session struct {
	ID              string    `json:"id"`
	TmuxName        string    `json:"tmux_session_name"`
	Label           string    `json:"label"`
	InitialPrompt   string    `json:"initial_prompt,omitempty"`
	SkipPermissions bool      `json:"skip_permissions,omitempty"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// Worktree is one git worktree + branch pair owned by a project. Name is
// unique within the project; the branch and path must stay consistent with
// the record for its lifetime.
type Worktree struct {
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	Branch    string     `json:"branch"`
	Sessions  []*Session `json:"sessions"`
	CreatedAt time.Time  `json:"created_at"`
}

// Session returns the session with the given id, or nil.
func (w *Worktree) Session(id string) *Session {
	for _, s := range w.Sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// RemoveSession removes the session with the given id. Returns true if a
// session was removed.
func (w *Worktree) RemoveSession(id string) bool {
	for i, s := range w.Sessions {
		if s.ID == id {
			w.Sessions = append(w.Sessions[:i], w.Sessions[i+1:]...)
			return true
		}
	}
	return false
}

// StateRecord is the serialized registry for one project: every worktree
// and session sw manages for that repository root.
type StateRecord struct {
	RepoRoot     string      `json:"repo_root"`
	WorktreeBase string      `json:"worktree_base"`
	Worktrees    []*Worktree `json:"worktrees"`
}

// Worktree returns the worktree with the given name, or nil.
func (r *StateRecord) Worktree(name string) *Worktree {
	for _, wt := range r.Worktrees {
		if wt.Name == name {
			return wt
		}
	}
	return nil
}

// FindSession locates a session by id across all worktrees.
func (r *StateRecord) FindSession(id string) (*Worktree, *Session) {
	for _, wt := range r.Worktrees {
		if s := wt.Session(id); s != nil {
			return wt, s
		}
	}
	return nil, nil
}

// FindSessionByTmuxName locates a session by its tmux session name.
func (r *StateRecord) FindSessionByTmuxName(name string) (*Worktree, *Session) {
	for _, wt := range r.Worktrees {
		for _, s := range wt.Sessions {
			if s.TmuxName == name {
				return wt, s
			}
		}
	}
	return nil, nil
}

// RemoveWorktree removes the worktree with the given name. Returns true if
// a worktree was removed.
func (r *StateRecord) RemoveWorktree(name string) bool {
	for i, wt := range r.Worktrees {
		if wt.Name == name {
			r.Worktrees = append(r.Worktrees[:i], r.Worktrees[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Snapshot readers get a clone so concurrent
// mutation inside a lock scope can never alias their view.
func (r *StateRecord) Clone() *StateRecord {
	out := &StateRecord{
		RepoRoot:     r.RepoRoot,
		WorktreeBase: r.WorktreeBase,
		Worktrees:    make([]*Worktree, 0, len(r.Worktrees)),
	}
	for _, wt := range r.Worktrees {
		cw := &Worktree{
			Name:      wt.Name,
			Path:      wt.Path,
			Branch:    wt.Branch,
			CreatedAt: wt.CreatedAt,
			Sessions:  make([]*Session, 0, len(wt.Sessions)),
		}
		for _, s := range wt.Sessions {
			cs := *s
			cw.Sessions = append(cw.Sessions, &cs)
		}
		out.Worktrees = append(out.Worktrees, cw)
	}
	return out
}
