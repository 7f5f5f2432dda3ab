package syncer

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/remotesync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// SyncIgnoreFile lists paths, relative to the sync root, that are never synced
const SyncIgnoreFile = ".syncignore"

// dotfiles and dot-directories are never synced
var defaultIgnoreLines = []string{
	".*",
}

type SyncIgnoreList struct {
	baseDir  string
	prefixes []string
	globs    []string
	defaults *gitignore.GitIgnore
}

func NewSyncIgnoreList(baseDir string) *SyncIgnoreList {
	return &SyncIgnoreList{
		baseDir:  baseDir,
		defaults: gitignore.CompileIgnoreLines(defaultIgnoreLines...),
	}
}

// Load reads the ignore file from the sync root. A missing file leaves only
// the built-in rules.
func (s *SyncIgnoreList) Load() {
	s.prefixes = nil
	s.globs = nil

	ignorePath := filepath.Join(s.baseDir, SyncIgnoreFile)
	if !utils.FileExists(ignorePath) {
		return
	}

	file, err := os.Open(ignorePath)
	if err != nil {
		slog.Warn("syncignore open", "path", ignorePath, "error", err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		s.addRule(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("syncignore read", "path", ignorePath, "error", err)
		return
	}
	slog.Info("syncignore loaded", "path", ignorePath, "rules", s.Rules())
}

func (s *SyncIgnoreList) addRule(line string) {
	rule := strings.TrimSpace(line)
	if rule == "" {
		return
	}
	rule = strings.TrimPrefix(filepath.ToSlash(rule), "./")

	if strings.ContainsAny(rule, "*?[{") {
		if !doublestar.ValidatePattern(rule) {
			slog.Warn("syncignore bad pattern", "pattern", rule)
			return
		}
		s.globs = append(s.globs, rule)
		return
	}
	s.prefixes = append(s.prefixes, rule)
}

// Rules returns how many rules were read from the ignore file
func (s *SyncIgnoreList) Rules() int {
	return len(s.prefixes) + len(s.globs)
}

// ShouldIgnore reports whether relPath, relative to the sync root with
// forward slashes, is excluded.
func (s *SyncIgnoreList) ShouldIgnore(relPath string) bool {
	if relPath == SyncIgnoreFile {
		return true
	}

	for _, prefix := range s.prefixes {
		if strings.HasPrefix(relPath, prefix) {
			return true
		}
	}

	for _, glob := range s.globs {
		if doublestar.MatchUnvalidated(glob, relPath) || doublestar.MatchUnvalidated(glob+"/**", relPath) {
			return true
		}
	}

	return s.defaults.MatchesPath(relPath)
}

// ShouldSync is ShouldIgnore negated, in the shape the worker expects
func (s *SyncIgnoreList) ShouldSync(relPath string) bool {
	return !s.ShouldIgnore(relPath)
}
