package chunker

import (
	"path"
	"strings"
	"sync"

	"github.com/dshills/devctx/pkg/types"
)

// Profile decides the document kind and split strategy of a language tag
type Profile struct {
	Kind     types.DocumentKind
	Strategy Strategy
}

var (
	codeProfile     = Profile{Kind: types.KindCode, Strategy: StrategyGeneric}
	docProfile      = Profile{Kind: types.KindDocumentation, Strategy: StrategyGeneric}
	markdownProfile = Profile{Kind: types.KindDocumentation, Strategy: StrategySemanticMarkdown}
)

// Registry maps file extensions to language tags and tags to profiles
type Registry struct {
	mu         sync.RWMutex
	extensions map[string]string
	profiles   map[string]Profile
}

// NewRegistry creates an empty registry. Unknown files are treated as code.
func NewRegistry() *Registry {
	return &Registry{
		extensions: make(map[string]string),
		profiles:   make(map[string]Profile),
	}
}

// DefaultRegistry returns a registry with the built-in languages
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("markdown", markdownProfile, ".md", ".markdown", ".mdx")
	r.Register("restructuredtext", docProfile, ".rst")
	r.Register("asciidoc", docProfile, ".adoc", ".asciidoc")
	r.Register("text", docProfile, ".txt")

	code := map[string][]string{
		"go":         {".go"},
		"python":     {".py"},
		"javascript": {".js", ".jsx", ".mjs", ".cjs"},
		"typescript": {".ts", ".tsx"},
		"java":       {".java"},
		"kotlin":     {".kt", ".kts"},
		"rust":       {".rs"},
		"c":          {".c", ".h"},
		"cpp":        {".cc", ".cpp", ".cxx", ".hpp"},
		"csharp":     {".cs"},
		"ruby":       {".rb"},
		"php":        {".php"},
		"swift":      {".swift"},
		"shell":      {".sh", ".bash", ".zsh"},
		"sql":        {".sql"},
		"yaml":       {".yaml", ".yml"},
		"json":       {".json"},
		"toml":       {".toml"},
		"html":       {".html", ".htm"},
		"css":        {".css", ".scss"},
		"proto":      {".proto"},
	}
	for lang, exts := range code {
		r.Register(lang, codeProfile, exts...)
	}

	return r
}

// Register binds a language tag to a profile and the extensions that select it
func (r *Registry) Register(language string, profile Profile, extensions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiles[language] = profile
	for _, ext := range extensions {
		r.extensions[strings.ToLower(ext)] = language
	}
}

// Detect returns the language tag and profile for a path
func (r *Registry) Detect(p string) (string, Profile) {
	ext := strings.ToLower(path.Ext(p))

	r.mu.RLock()
	defer r.mu.RUnlock()

	language, ok := r.extensions[ext]
	if !ok {
		if ext == "" {
			return "plaintext", codeProfile
		}
		return strings.TrimPrefix(ext, "."), codeProfile
	}

	profile, ok := r.profiles[language]
	if !ok {
		return language, codeProfile
	}
	return language, profile
}
