package devenv

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const moduleName = "codefolio-backend"

// StateDirEnv overrides the directory `<dev_state>` expands to.
const StateDirEnv = "CODEFOLIO_STATE_DIR"

const statePrefix = "<dev_state>"

var modName = regexp.MustCompile(`(?m)^module\s+(\S+)\s*$`)

func isWorkspaceRoot(dir string) bool {
	mod, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return false
	}
	matches := modName.FindSubmatch(mod)
	return len(matches) >= 2 && string(matches[1]) == moduleName
}

var findRoot = sync.OnceValues(func() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if isWorkspaceRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
})

// GetWorkspaceRoot walks up from the working directory to the checkout of this
// module. The result is computed once per process.
func GetWorkspaceRoot() (string, error) {
	return findRoot()
}

// StateDir returns the directory backing `<dev_state>` without creating it.
func StateDir() (string, error) {
	if dir := os.Getenv(StateDirEnv); dir != "" {
		return filepath.Abs(dir)
	}
	root, err := GetWorkspaceRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "dev", ".state"), nil
}

// IsStatePath reports whether the path is relative to `<dev_state>`.
func IsStatePath(path string) bool {
	return path == statePrefix || strings.HasPrefix(filepath.ToSlash(path), statePrefix+"/")
}

// ResolvePath expands a leading `<dev_state>` segment to the state directory,
// creating the directory when needed. Other paths are returned unchanged.
func ResolvePath(path string) (string, error) {
	if !IsStatePath(path) {
		return path, nil
	}

	statedir, err := StateDir()
	if err != nil {
		return "", err
	}
	err = os.MkdirAll(statedir, 0777)
	if err != nil {
		return "", err
	}

	rest := strings.TrimPrefix(filepath.ToSlash(path), statePrefix)
	return filepath.Join(statedir, filepath.FromSlash(strings.TrimPrefix(rest, "/"))), nil
}
