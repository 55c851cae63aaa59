// Package project derives the stable project_id used to namespace a
// project's persisted state (vector store, BM25 index) and enforces the
// path-safety rule that file reads stay within the project root.
package project

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
)

// ID returns the stable identifier for the project rooted at rootPath:
// <sanitized-dir-name>-<8-hex>, where the hex digits are the low 32 bits
// of a stable hash of the canonical (absolute, cleaned) project path.
func ID(rootPath string) (string, error) {
	canonical, err := CanonicalRoot(rootPath)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256([]byte(canonical))
	low32 := binary.BigEndian.Uint32(hash[len(hash)-4:])

	name := SanitizeName(filepath.Base(canonical))
	return fmt.Sprintf("%s-%08x", name, low32), nil
}

// CanonicalRoot resolves path to its absolute, cleaned form. It does not
// resolve symlinks: the project root is treated as whatever directory the
// caller named, matching the teacher's own scanner/runner use of
// filepath.Abs without an EvalSymlinks step.
func CanonicalRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("canonicalize project root %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// SanitizeName lowercases name and replaces every character outside
// [a-z0-9_-] with '-'. Idempotent: SanitizeName(SanitizeName(s)) ==
// SanitizeName(s).
func SanitizeName(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}

// SafePath resolves rel against root and returns an error if the result,
// after canonicalization, does not have the canonical root as a prefix
// (P7). Grounded on the teacher's internal/scanner.ScanSubtree containment
// check (absRoot/absSubtree + strings.HasPrefix).
func SafePath(root, rel string) (string, error) {
	absRoot, err := CanonicalRoot(root)
	if err != nil {
		return "", err
	}

	joined := filepath.Join(absRoot, rel)
	absTarget, err := CanonicalRoot(joined)
	if err != nil {
		return "", err
	}

	if absTarget != absRoot && !strings.HasPrefix(absTarget, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path outside project root: %s", rel)
	}
	return absTarget, nil
}
