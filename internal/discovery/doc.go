// Package discovery resolves which workspace files are indexed.
//
// Patterns are slash-separated globs relative to the workspace root. A
// pattern without a slash matches the base name anywhere in the tree
// ("*.go", "node_modules"); "**" spans directories ("docs/**/*.md").
// Excluded directories are pruned during the walk. A file matching both an
// include and an exclude pattern is excluded.
package discovery
