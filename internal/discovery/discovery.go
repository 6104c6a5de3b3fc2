package discovery

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

// DefaultExcludes are skipped in every workspace
var DefaultExcludes = []string{
	".git",
	".hg",
	".svn",
	".devctx",
	"node_modules",
	"vendor",
	"dist",
	"build",
	"target",
	"bin",
	"obj",
	".venv",
	"venv",
	"__pycache__",
	".pytest_cache",
	".gradle",
	".idea",
	".cache",
	"coverage",
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.ico", "*.pdf",
	"*.zip", "*.gz", "*.tar", "*.exe", "*.dll", "*.so", "*.dylib",
	"*.lock", "go.sum",
}

// FileSystemWalker abstracts directory traversal for testing
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

// Walk traverses root with godirwalk
func (DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// Discoverer resolves the set of files to index under a workspace
type Discoverer struct {
	Walker FileSystemWalker
}

// New returns a Discoverer backed by godirwalk
func New() *Discoverer {
	return &Discoverer{Walker: DefaultFileSystemWalker{}}
}

// Discover is New().Discover
func Discover(basePath string, include, exclude []string) ([]string, error) {
	return New().Discover(basePath, include, exclude)
}

// Discover returns the sorted, slash-separated relative paths of regular
// files under basePath that match an include pattern and no exclude
// pattern. An empty include list selects every file. Exclude wins.
func (d *Discoverer) Discover(basePath string, include, exclude []string) ([]string, error) {
	root, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	var files []string
	walkErr := d.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(root, osPathname)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return nil
			}

			if de.IsDir() {
				if excludedDir(rel, exclude) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !de.IsRegular() {
				return nil
			}

			if Selected(rel, include, exclude) {
				files = append(files, rel)
			}
			return nil
		},
		ErrorCallback: func(osPathname string, err error) godirwalk.ErrorAction {
			log.Warn().Err(err).Str("path", osPathname).Msg("skipping unreadable path")
			return godirwalk.SkipNode
		},
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, walkErr)
	}

	sort.Strings(files)
	return files, nil
}

// Selected reports whether rel is included and not excluded
func Selected(rel string, include, exclude []string) bool {
	for _, p := range exclude {
		if Match(p, rel) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, p := range include {
		if Match(p, rel) {
			return true
		}
	}
	return false
}

func excludedDir(rel string, exclude []string) bool {
	for _, p := range exclude {
		if matchDir(p, rel) {
			return true
		}
	}
	return false
}

// MergeExcludes concatenates exclude lists in order, dropping blanks and duplicates
func MergeExcludes(defaults, configured, inspection []string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, list := range [][]string{defaults, configured, inspection} {
		for _, p := range list {
			p = normalize(p)
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			merged = append(merged, p)
		}
	}
	return merged
}
