package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// EnvRoot overrides the mailbox root directory.
	EnvRoot = "MAILROOM_MAILBOX_ROOT"
	// EnvWorkspaceRoot locates the workspace; the mailbox lives at WorkspaceSubpath inside it.
	EnvWorkspaceRoot = "MAILROOM_WORKSPACE_ROOT"

	// WorkspaceSubpath is joined with the workspace root when EnvRoot is unset.
	WorkspaceSubpath = ".mailroom/mailbox"

	defaultRootDirName = "mailbox"
)

// RootFromEnv picks the mailbox root: EnvRoot, else EnvWorkspaceRoot joined
// with WorkspaceSubpath, else configured, else ./mailbox. The result is not
// created or normalized; see ResolveRoot.
func RootFromEnv(configured string) string {
	if value := strings.TrimSpace(os.Getenv(EnvRoot)); value != "" {
		return value
	}
	if value := strings.TrimSpace(os.Getenv(EnvWorkspaceRoot)); value != "" {
		return filepath.Join(value, filepath.FromSlash(WorkspaceSubpath))
	}
	if value := strings.TrimSpace(configured); value != "" {
		return value
	}

	return defaultRootDirName
}

// ResolveRoot expands "~", makes the path absolute, creates it when missing,
// and returns the symlink-resolved directory.
func ResolveRoot(root string) (string, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		trimmed = defaultRootDirName
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute mailbox path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return "", fmt.Errorf("create mailbox directory: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		return "", NormalizeIOError(err, "resolve mailbox root")
	}

	return filepath.Clean(resolved), nil
}

// Guard resolves user-supplied paths and keeps them inside the mailbox root.
type Guard struct {
	rootPath string
}

// NewGuard returns a guard for an already resolved root.
func NewGuard(root string) (*Guard, error) {
	resolved, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	return &Guard{rootPath: resolved}, nil
}

// Root returns the normalized absolute mailbox root.
func (g *Guard) Root() string {
	if g == nil {
		return ""
	}

	return g.rootPath
}

// ResolvePath validates and returns a canonical absolute path inside the mailbox.
func (g *Guard) ResolvePath(inputPath string) (string, error) {
	if g == nil {
		return "", NewError(ErrorIO, "mailbox guard is nil")
	}

	trimmed := strings.TrimSpace(inputPath)
	if trimmed == "" {
		return "", NewError(ErrorInvalidPath, "path must not be empty")
	}

	candidate := trimmed
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(g.rootPath, candidate)
	}

	absPath, err := filepath.Abs(candidate)
	if err != nil {
		return "", NewError(ErrorInvalidPath, "path could not be resolved")
	}

	effectivePath, err := canonicalPath(filepath.Clean(absPath))
	if err != nil {
		return "", err
	}

	if !isWithin(g.rootPath, effectivePath) {
		return "", NewError(ErrorOutsideMailbox, "resolved path escapes mailbox")
	}

	return effectivePath, nil
}

// RelPath returns a mailbox-relative path when representable.
func (g *Guard) RelPath(path string) string {
	if g == nil {
		return filepath.Clean(path)
	}

	rel, err := filepath.Rel(g.rootPath, path)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return filepath.Clean(path)
	}

	return filepath.Clean(rel)
}

func canonicalPath(path string) (string, error) {
	evaluated, err := filepath.EvalSymlinks(path)
	if err == nil {
		return filepath.Clean(evaluated), nil
	}
	if !os.IsNotExist(err) {
		return "", NormalizeIOError(err, "resolve path")
	}

	parent, remainder, splitErr := nearestExistingParent(path)
	if splitErr != nil {
		return "", splitErr
	}

	evaluatedParent, evalErr := filepath.EvalSymlinks(parent)
	if evalErr != nil {
		return "", NormalizeIOError(evalErr, "resolve path")
	}

	return filepath.Clean(filepath.Join(evaluatedParent, remainder)), nil
}

func nearestExistingParent(path string) (string, string, error) {
	current := filepath.Clean(path)
	parts := make([]string, 0)

	for {
		if _, err := os.Lstat(current); err == nil {
			remainder := ""
			for i := len(parts) - 1; i >= 0; i-- {
				remainder = filepath.Join(remainder, parts[i])
			}
			return current, remainder, nil
		}

		base := filepath.Base(current)
		if base == "." || base == string(filepath.Separator) {
			break
		}
		parts = append(parts, base)

		next := filepath.Dir(current)
		if next == current {
			break
		}
		current = next
	}

	return "", "", NewError(ErrorInvalidPath, "path could not be resolved")
}

func expandHome(path string) (string, error) {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}

	prefix := "~" + string(filepath.Separator)
	if strings.HasPrefix(path, prefix) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
	}

	return path, nil
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return !filepath.IsAbs(rel)
}
