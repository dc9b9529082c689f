package manifest

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the root of a scanned directory.
const IgnoreFileName = ".laj3ignore"

var defaultIgnoreLines = []string{
	IgnoreFileName,
	"*.laj3.tmp.*",
	// vcs
	".git",
	".hg",
	".svn",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

// IgnoreList matches root-relative slash paths against gitignore-style rules.
type IgnoreList struct {
	rules  int
	ignore *gitignore.GitIgnore
}

// LoadIgnoreList compiles the default rules, those of baseDir/.laj3ignore and
// then extra. A missing or unreadable ignore file is skipped.
func LoadIgnoreList(baseDir string, extra ...string) *IgnoreList {
	var lines []string
	ignorePath := filepath.Join(baseDir, IgnoreFileName)

	if file, err := os.Open(ignorePath); err == nil {
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("ignore file read", "path", ignorePath, "error", err)
		} else {
			slog.Debug("ignore file loaded", "path", ignorePath, "rules", len(lines))
		}
		file.Close()
	} else if !os.IsNotExist(err) {
		slog.Warn("ignore file open", "path", ignorePath, "error", err)
	}

	return NewIgnoreList(append(lines, extra...)...)
}

// NewIgnoreList compiles the default rules followed by extra.
func NewIgnoreList(extra ...string) *IgnoreList {
	lines := append(append([]string{}, defaultIgnoreLines...), extra...)
	return &IgnoreList{
		rules:  len(extra),
		ignore: gitignore.CompileIgnoreLines(lines...),
	}
}

// ShouldIgnore reports whether the root-relative path rel is excluded.
func (l *IgnoreList) ShouldIgnore(rel string) bool {
	if l == nil || l.ignore == nil || rel == "" {
		return false
	}
	return l.ignore.MatchesPath(rel)
}

// Rules returns the number of rules on top of the defaults.
func (l *IgnoreList) Rules() int {
	return l.rules
}
