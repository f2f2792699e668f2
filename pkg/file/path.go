package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path for ext. The leading dot of ext is
// optional, and a dotfile such as ".env" has no extension to replace.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir, name := filepath.Split(path)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return filepath.Join(dir, name+ext)
}
