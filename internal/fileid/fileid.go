// Package fileid derives stable catalog identifiers from files under a data directory.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

const prefix = "file:"

// SourceName returns path relative to root with forward slashes. Paths outside
// root are returned cleaned and slash-separated.
func SourceName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Clean(path)
	}
	return filepath.ToSlash(rel)
}

// DocID returns a stable document ID for a source name. The same source always
// yields the same ID, so a data directory can be moved without renumbering.
func DocID(source string) string {
	normalized := filepath.ToSlash(filepath.Clean(source))
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:16])
}

// IsFileDocID reports whether id was produced by DocID.
func IsFileDocID(id string) bool {
	return strings.HasPrefix(id, prefix)
}

// Fingerprint identifies a file version by size and modification time.
func Fingerprint(info fs.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano())
}
