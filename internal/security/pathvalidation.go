// Package security guards file names built from session identifiers so
// trace exports stay inside their configured directory.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path resolves outside its base directory.
var ErrPathEscape = errors.New("path escapes base directory")

// maxFilenameLen bounds sanitized names.
const maxFilenameLen = 96

// ContainPath reports an error unless path, once cleaned and with symlinks
// in its existing prefix resolved, lies within baseDir. The path itself may
// not exist yet.
func ContainPath(path, baseDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", baseDir, err)
	}
	base, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", baseDir, err)
	}

	rel, err := filepath.Rel(base, resolveExisting(absPath))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s not under %s", ErrPathEscape, path, baseDir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing ancestor of p
// and re-attaches the missing tail.
func resolveExisting(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	for dir := filepath.Dir(p); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			tail, _ := filepath.Rel(dir, p)
			return filepath.Join(resolved, tail)
		}
		if dir == filepath.Dir(dir) {
			return p
		}
	}
}

// SanitizeFilename maps s onto [A-Za-z0-9._-], folding each run of other
// characters into a single underscore. Empty results become "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	pendingUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-'
		if !ok {
			pendingUnderscore = true
			continue
		}
		if pendingUnderscore && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingUnderscore = false
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
