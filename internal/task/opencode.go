package task

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// opencodeRepoURL is the upstream repository cloned on first start.
const opencodeRepoURL = "https://github.com/sst/opencode.git"

// OpenCode locates the optional wrapper tool that commands can be run
// through instead of being executed directly.
type OpenCode struct {
	dir string
}

// NewOpenCode creates an OpenCode rooted at the given install directory.
func NewOpenCode(dir string) *OpenCode {
	return &OpenCode{dir: dir}
}

// Dir returns the install directory.
func (o *OpenCode) Dir() string {
	return o.dir
}

// Available reports whether the installation directory exists.
func (o *OpenCode) Available() bool {
	info, err := os.Stat(o.dir)
	return err == nil && info.IsDir()
}

// Resolve returns the wrapper binary path, or an error when the
// installation is not available.
func (o *OpenCode) Resolve() (string, error) {
	if !o.Available() {
		return "", fmt.Errorf("opencode installation not found at %s", o.dir)
	}
	return filepath.Join(o.dir, "packages", "opencode", "bin", "opencode"), nil
}

// EnsureInstalled clones the wrapper repository if it is not already
// present. A failure here only disables wrapped executions; direct
// executions are unaffected.
func (o *OpenCode) EnsureInstalled(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(o.dir, ".git")); err == nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", opencodeRepoURL, o.dir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to clone opencode: %w", err)
	}

	return nil
}
