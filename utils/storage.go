package utils

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// UploadTo builds the storage path for a user-scoped attachment. The core
// persists only the returned path; the blob itself is written by the
// hosting layer's storage provider.
func UploadTo(userId int, filename string, directory string) string {
	name := unsafePathChars.ReplaceAllString(strings.TrimSpace(filename), "-")
	if name == "" || name == "." {
		name = "untitled"
	}
	dir := strings.Trim(directory, "/")
	if dir == "" {
		return path.Join("users", strconv.Itoa(userId), name)
	}
	return path.Join("users", strconv.Itoa(userId), dir, name)
}
