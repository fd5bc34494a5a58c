// Package safepath guards filesystem removals that are driven by
// ledger or config state.
package safepath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveInside resolves target, rejects symlink components, and
// ensures the result stays under root. Batch deletion runs manifest
// removal through this so a doctored config or ledger row cannot aim
// the delete outside the manifest directory.
func ResolveInside(root, target string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("containment root is required")
	}
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("target path is required")
	}

	rootAbs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("resolve root path %s: %w", root, err)
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve root symlinks %s: %w", root, err)
	}

	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve target path %s: %w", target, err)
	}
	targetAbs = filepath.Clean(targetAbs)

	// A missing leaf is fine (the manifest may already be gone), but
	// its parent must resolve so containment can still be checked.
	resolvedTarget := targetAbs
	if _, err := os.Stat(targetAbs); err == nil {
		resolved, err := filepath.EvalSymlinks(targetAbs)
		if err != nil {
			return "", fmt.Errorf("resolve target path %s: %w", target, err)
		}
		resolvedTarget = resolved
	} else if errors.Is(err, os.ErrNotExist) {
		parent := filepath.Dir(targetAbs)
		if parent == targetAbs {
			return "", fmt.Errorf("target path has no parent: %s", target)
		}
		resolvedParent, err := filepath.EvalSymlinks(parent)
		if err != nil {
			return "", fmt.Errorf("resolve target parent %s: %w", parent, err)
		}
		resolvedTarget = filepath.Join(resolvedParent, filepath.Base(targetAbs))
	} else {
		return "", err
	}

	if err := ensureNoSymlinkComponents(resolvedTarget); err != nil {
		return "", err
	}

	resolvedRoot := filepath.Clean(rootReal)
	resolvedTarget = filepath.Clean(resolvedTarget)
	rel, err := filepath.Rel(resolvedRoot, resolvedTarget)
	if err != nil {
		return "", fmt.Errorf("resolve relative path for %s: %w", target, err)
	}
	if rel == "." || rel == ".." || rel == "" || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes containment root: %s", target)
	}

	return resolvedTarget, nil
}

func ensureNoSymlinkComponents(candidate string) error {
	current := filepath.Clean(candidate)
	for {
		info, err := os.Lstat(current)
		if err == nil {
			if info.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path contains symlink component: %s", current)
			}
		} else if !os.IsNotExist(err) {
			return err
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return nil
}
