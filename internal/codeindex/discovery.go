// Package codeindex implements the per-project source catalog: discovery,
// incremental diffing, regex-based symbol extraction, fixed-window
// chunking, and text/symbol/semantic search (spec §4.6).
package codeindex

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/contextfabric/context-fabric/internal/gitignore"
)

// DefaultMaxFiles caps the number of files a single scan will discover.
const DefaultMaxFiles = 10000

// DefaultMaxFileSizeBytes skips files larger than this during discovery.
const DefaultMaxFileSizeBytes = 1 << 20 // 1 MiB

// ignoredDirs is the fixed ignore list consulted during the directory-walk
// fallback, independent of .gitignore (spec §4.6).
var ignoredDirs = map[string]struct{}{
	".git": {}, "node_modules": {}, "dist": {}, "build": {}, "target": {},
	".venv": {}, "venv": {}, "__pycache__": {}, ".next": {}, ".nuxt": {},
	"coverage": {}, ".cache": {}, ".context-fabric": {}, ".tox": {}, ".mypy_cache": {},
}

// languageByExt maps a closed set of indexable extensions to a language
// family name, approximating the teacher's DetectLanguage but restricted to
// the spec's named coverage (~8 code families plus markup/data/config).
var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".rs":    "rust",
	".rb":    "ruby",
	".md":    "markdown",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".sh":    "shell",
	".bash":  "shell",
}

// DetectLanguage returns the language family for a path's extension, or ""
// if the extension is not indexable.
func DetectLanguage(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

// DiscoveredFile is a single file found by Discover, before hashing.
type DiscoveredFile struct {
	Path     string // relative to root
	AbsPath  string
	Size     int64
	ModTime  int64 // epoch ms
	Language string
}

// Discover finds indexable files under root. It first attempts to use
// `git ls-files` for version-controlled discovery; on any failure (not a
// git repo, git not installed) it falls back to a gitignore-aware
// directory walk (spec §4.6).
func Discover(ctx context.Context, root string) ([]DiscoveredFile, error) {
	paths, err := gitLsFiles(ctx, root)
	if err != nil {
		return walkDiscover(ctx, root)
	}
	return statPaths(root, paths)
}

func gitLsFiles(ctx context.Context, root string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var paths []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, scanner.Err()
}

func statPaths(root string, relPaths []string) ([]DiscoveredFile, error) {
	sort.Strings(relPaths)
	var out []DiscoveredFile
	for _, rel := range relPaths {
		if len(out) >= DefaultMaxFiles {
			break
		}
		lang := DetectLanguage(rel)
		if lang == "" {
			continue
		}
		abs := filepath.Join(root, rel)
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Size() > DefaultMaxFileSizeBytes {
			continue
		}
		if looksBinary(abs) {
			continue
		}
		out = append(out, DiscoveredFile{
			Path: rel, AbsPath: abs, Size: info.Size(),
			ModTime: info.ModTime().UnixMilli(), Language: lang,
		})
	}
	return out, nil
}

func walkDiscover(ctx context.Context, root string) ([]DiscoveredFile, error) {
	gi := gitignore.New()
	if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			gi.AddPattern(line)
		}
	}

	var out []DiscoveredFile
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if len(out) >= DefaultMaxFiles {
			return filepath.SkipDir
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}

		if info.IsDir() {
			if _, skip := ignoredDirs[info.Name()]; skip {
				return filepath.SkipDir
			}
			if gi.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if gi.Match(rel, false) {
			return nil
		}
		lang := DetectLanguage(rel)
		if lang == "" {
			return nil
		}
		if info.Size() > DefaultMaxFileSizeBytes {
			return nil
		}
		if looksBinary(path) {
			return nil
		}

		out = append(out, DiscoveredFile{
			Path: rel, AbsPath: path, Size: info.Size(),
			ModTime: info.ModTime().UnixMilli(), Language: lang,
		})
		return nil
	})
	if err != nil && err != context.Canceled {
		return out, err
	}
	return out, nil
}

// looksBinary reports whether the first 8KiB of path contains a null byte
// (spec §4.6's binary-file heuristic).
func looksBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, _ := f.Read(buf)
	return bytes.IndexByte(buf[:n], 0) >= 0
}
