// Package config resolves layered configuration for sw.
//
// Three layers merge right-biased by dotted key: built-in defaults, the
// global user file (~/.config/sw/config.toml), and the per-project file
// (<repo>/.sw.toml). Resolution is all-or-nothing per key; unknown keys
// are preserved for forward compatibility, but a wrong type on a known
// key fails with a ConfigError naming the key and layer.
package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/spf13/viper"

	"github.com/brianly1003/sw/internal/domain"
	swexec "github.com/brianly1003/sw/internal/exec"
)

// ProjectConfigName is the per-project config file at the repo root.
const ProjectConfigName = ".sw.toml"

// WorktreeSettings holds worktree naming and placement settings.
type WorktreeSettings struct {
	Prefix       string `mapstructure:"prefix"`
	BranchPrefix string `mapstructure:"branch_prefix"`
	BaseDir      string `mapstructure:"base_dir"`
}

// EnvSettings holds worktree environment materialization settings.
type EnvSettings struct {
	Symlinks       []string `mapstructure:"symlinks"`
	Copies         []string `mapstructure:"copies"`
	PostCreateHook string   `mapstructure:"post_create_hook"`
}

// GitSettings holds git-related settings.
type GitSettings struct {
	MainBranch            string `mapstructure:"main_branch"`
	Remote                string `mapstructure:"remote"`
	DeleteBranchOnCleanup bool   `mapstructure:"delete_branch_on_cleanup"`
}

// StateSettings holds state-store settings.
type StateSettings struct {
	LockTimeoutMS int `mapstructure:"lock_timeout_ms"`
}

// StatusSettings holds status-detector settings. Marker lists are empty by
// default, meaning the built-in rule set applies; setting them tracks
// prompt-wording changes in the driven tool without a code change.
type StatusSettings struct {
	CaptureLines    int      `mapstructure:"capture_lines"`
	ApprovalMarkers []string `mapstructure:"approval_markers"`
	InputMarkers    []string `mapstructure:"input_markers"`
	BusyMarkers     []string `mapstructure:"busy_markers"`
}

// FileConfig is the shape of one config layer after parsing.
type FileConfig struct {
	Worktree WorktreeSettings `mapstructure:"worktree"`
	Env      EnvSettings      `mapstructure:"env"`
	Git      GitSettings      `mapstructure:"git"`
	State    StateSettings    `mapstructure:"state"`
	Status   StatusSettings   `mapstructure:"status"`
}

// Resolved is the flat immutable configuration for one project, with every
// value guaranteed filled (auto-detection covers what the files leave
// unset).
type Resolved struct {
	RepoRoot       string
	WorktreePrefix string
	BranchPrefix   string
	BaseDir        string

	Symlinks       []string
	Copies         []string
	PostCreateHook string

	MainBranch            string
	Remote                string
	DeleteBranchOnCleanup bool

	LockTimeout  time.Duration
	CaptureLines int

	ApprovalMarkers []string
	InputMarkers    []string
	BusyMarkers     []string

	// settings is the merged key tree, kept for display and unknown-key
	// lookups.
	settings map[string]interface{}
}

// StateHash returns a short stable hash of the repo root, used to key
// per-project state files.
func (r *Resolved) StateHash() string {
	sum := sha256.Sum256([]byte(r.RepoRoot))
	return hex.EncodeToString(sum[:])[:12]
}

// Settings returns the merged key tree (defaults included).
func (r *Resolved) Settings() map[string]interface{} {
	return r.settings
}

// ConfigDir returns the sw config directory (~/.config/sw).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sw"), nil
}

// GlobalConfigPath returns the path of the global config layer.
func GlobalConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// StateDir returns the directory holding per-project state files.
func StateDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state"), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worktree.prefix", "")
	v.SetDefault("worktree.branch_prefix", "sw-")
	v.SetDefault("worktree.base_dir", "")

	v.SetDefault("env.symlinks", []string{".venv", ".claude"})
	v.SetDefault("env.copies", []string{})
	v.SetDefault("env.post_create_hook", "")

	v.SetDefault("git.main_branch", "")
	v.SetDefault("git.remote", "")
	v.SetDefault("git.delete_branch_on_cleanup", false)

	v.SetDefault("state.lock_timeout_ms", 3000)

	v.SetDefault("status.capture_lines", 200)
	v.SetDefault("status.approval_markers", []string{})
	v.SetDefault("status.input_markers", []string{})
	v.SetDefault("status.busy_markers", []string{})
}

// decodeKeyPattern extracts the offending key from a mapstructure decode
// error ("cannot parse 'worktree.branch_prefix' as ...").
var decodeKeyPattern = regexp.MustCompile(`'([^']+)'`)

func decodeErrorKey(err error) string {
	m := decodeKeyPattern.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return "(unknown)"
	}
	return m[1]
}

// validateLayer parses one layer file on its own so a type error can be
// attributed to the file it came from. A missing file is not an error.
func validateLayer(path, layer string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return domain.NewConfigError("(file)", layer, err.Error())
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return domain.NewConfigError(decodeErrorKey(err), layer, "wrong type for known key")
	}
	return nil
}

// Resolve loads and merges the three layers for the repository containing
// dir, then fills unset values via git auto-detection. Pure with respect
// to its inputs: the same layer contents always yield the same Resolved.
func Resolve(ctx context.Context, executor swexec.CommandExecutor, dir string) (*Resolved, error) {
	repoRoot, err := DetectRepoRoot(ctx, executor, dir)
	if err != nil {
		return nil, err
	}
	globalPath, err := GlobalConfigPath()
	if err != nil {
		return nil, err
	}
	projectPath := filepath.Join(repoRoot, ProjectConfigName)
	return resolveFrom(ctx, executor, repoRoot, globalPath, projectPath)
}

// resolveFrom is the layer-merge core, split out so tests can point the
// layers at temp files.
func resolveFrom(ctx context.Context, executor swexec.CommandExecutor, repoRoot, globalPath, projectPath string) (*Resolved, error) {
	if err := validateLayer(globalPath, "global"); err != nil {
		return nil, err
	}
	if err := validateLayer(projectPath, "project"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	for _, path := range []string{globalPath, projectPath} {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, domain.NewConfigError(decodeErrorKey(err), "merged", "wrong type for known key")
	}

	remote := fc.Git.Remote
	if remote == "" {
		remote = DetectRemote(ctx, executor, repoRoot)
	}
	mainBranch := fc.Git.MainBranch
	if mainBranch == "" {
		mainBranch = DetectMainBranch(ctx, executor, repoRoot, remote)
	}
	prefix := fc.Worktree.Prefix
	if prefix == "" {
		prefix = filepath.Base(repoRoot)
	}
	baseDir := fc.Worktree.BaseDir
	if baseDir == "" {
		baseDir = filepath.Dir(repoRoot)
	}
	lockTimeout := time.Duration(fc.State.LockTimeoutMS) * time.Millisecond
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	captureLines := fc.Status.CaptureLines
	if captureLines <= 0 {
		captureLines = 200
	}

	return &Resolved{
		RepoRoot:              repoRoot,
		WorktreePrefix:        prefix,
		BranchPrefix:          fc.Worktree.BranchPrefix,
		BaseDir:               baseDir,
		Symlinks:              fc.Env.Symlinks,
		Copies:                fc.Env.Copies,
		PostCreateHook:        fc.Env.PostCreateHook,
		MainBranch:            mainBranch,
		Remote:                remote,
		DeleteBranchOnCleanup: fc.Git.DeleteBranchOnCleanup,
		LockTimeout:           lockTimeout,
		CaptureLines:          captureLines,
		ApprovalMarkers:       fc.Status.ApprovalMarkers,
		InputMarkers:          fc.Status.InputMarkers,
		BusyMarkers:           fc.Status.BusyMarkers,
		settings:              v.AllSettings(),
	}, nil
}
