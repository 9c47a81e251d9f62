package kibo

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/armon/go-radix"
	ignore "github.com/sabhiram/go-gitignore"
	. "github.com/stevegt/goadapt"
)

// WalkResult is the sorted output of a workspace walk: the tracked files
// and directories, ready for the save pipeline to hash/store.
type WalkResult struct {
	Files       []walkedFile
	Directories []walkedDir
}

type walkedFile struct {
	RelPath string
	AbsPath string
	Info    fs.FileInfo
	// LinkTarget is non-empty when the file is a symlink; its "content"
	// for hashing/storage purposes is this string, not the link target's
	// own bytes -- spec.md 4.C.
	LinkTarget string
}

type walkedDir struct {
	RelPath string
	AbsPath string
	Info    fs.FileInfo
}

// Walk implements the Walker component (spec.md 4.C), grounded on
// original_source/src/snapshot.rs's collect_files/collect_directories/
// process_file. directories and files come from the manifest's recorded
// patterns on load (so the reconstructed tracked shape matches what was
// saved) or from the live config on save.
func Walk(root string, directories, files, ignorePatterns []string) (*WalkResult, error) {
	dirNames := radix.New()
	for _, d := range directories {
		dirNames.Insert(d, true)
	}

	gi := compileIgnore(ignorePatterns)

	seen := map[string]bool{}
	var walkedFiles []walkedFile
	var walkedDirs []walkedDir

	trackedRoots, err := findTrackedDirectoryRoots(root, dirNames, gi)
	if err != nil {
		return nil, err
	}

	for _, tr := range trackedRoots {
		if err := walkTrackedTree(root, tr, gi, seen, &walkedFiles, &walkedDirs); err != nil {
			return nil, err
		}
	}

	if err := collectFilePatterns(root, files, gi, seen, &walkedFiles); err != nil {
		return nil, err
	}

	sort.Slice(walkedFiles, func(i, j int) bool { return walkedFiles[i].RelPath < walkedFiles[j].RelPath })
	sort.Slice(walkedDirs, func(i, j int) bool { return walkedDirs[i].RelPath < walkedDirs[j].RelPath })

	return &WalkResult{Files: walkedFiles, Directories: walkedDirs}, nil
}

// findTrackedDirectoryRoots returns every directory under root whose base
// name is in dirNames, skipping .kibo and ignored paths. This is the
// directory-name matching rule of spec.md 4.C step 2, generalized with a
// radix tree (github.com/armon/go-radix, sourced from
// cristian1one-virtual-vectorfs) for the common case of many tracked
// names.
func findTrackedDirectoryRoots(root string, dirNames *radix.Tree, gi *ignore.GitIgnore) (roots []string, err error) {
	defer Return(&err)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		Ck(walkErr)
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		Ck(relErr)
		if rel == "." {
			return nil
		}
		if filepath.Base(path) == KiboDir {
			return filepath.SkipDir
		}
		if gi != nil && gi.MatchesPath(toSlash(rel)) {
			return filepath.SkipDir
		}
		if _, ok := dirNames.Get(filepath.Base(path)); ok {
			roots = append(roots, path)
			return filepath.SkipDir // descendants are handled by walkTrackedTree
		}
		return nil
	})
	Ck(walkErr)
	return
}

// walkTrackedTree records every file and directory under trackedRoot
// (inclusive), honoring ignore patterns and symlink handling.
func walkTrackedTree(root, trackedRoot string, gi *ignore.GitIgnore, seen map[string]bool, files *[]walkedFile, dirs *[]walkedDir) (err error) {
	defer Return(&err)

	walkErr := filepath.WalkDir(trackedRoot, func(path string, d fs.DirEntry, walkErr error) error {
		Ck(walkErr)
		rel, relErr := filepath.Rel(root, path)
		Ck(relErr)
		relSlash := toSlash(rel)

		if gi != nil && gi.MatchesPath(relSlash) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, infoErr := d.Info()
		Ck(infoErr)

		if d.IsDir() {
			if !seen["dir:"+relSlash] {
				seen["dir:"+relSlash] = true
				*dirs = append(*dirs, walkedDir{RelPath: relSlash, AbsPath: path, Info: info})
			}
			return nil
		}

		if seen["file:"+relSlash] {
			return nil
		}
		seen["file:"+relSlash] = true

		wf, fileErr := buildWalkedFile(path, relSlash, info)
		Ck(fileErr)
		*files = append(*files, wf)
		return nil
	})
	Ck(walkErr)
	return
}

func buildWalkedFile(absPath, relSlash string, info fs.FileInfo) (wf walkedFile, err error) {
	defer Return(&err)

	if info.Mode()&os.ModeSymlink != 0 {
		target, readErr := os.Readlink(absPath)
		Ck(readErr)
		return walkedFile{RelPath: relSlash, AbsPath: absPath, Info: info, LinkTarget: target}, nil
	}
	return walkedFile{RelPath: relSlash, AbsPath: absPath, Info: info}, nil
}

// collectFilePatterns implements spec.md 4.C step 3: any regular file
// whose workspace-relative path matches a pattern in the files list (and
// not the ignore list) is tracked, independent of directory-name rules.
// ** handling mirrors original_source/src/snapshot.rs's distinction
// between "**"-containing and plain patterns.
func collectFilePatterns(root string, patterns []string, gi *ignore.GitIgnore, seen map[string]bool, files *[]walkedFile) (err error) {
	defer Return(&err)

	for _, pattern := range patterns {
		matches, matchErr := globMatch(root, pattern)
		Ck(matchErr)
		for _, absPath := range matches {
			info, statErr := os.Lstat(absPath)
			if statErr != nil {
				continue // vanished between match and stat; skip rather than fail the whole save
			}
			if info.IsDir() {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			Ck(relErr)
			relSlash := toSlash(rel)
			if strings.HasPrefix(relSlash, KiboDir+"/") {
				continue
			}
			if gi != nil && gi.MatchesPath(relSlash) {
				continue
			}
			if seen["file:"+relSlash] {
				continue
			}
			seen["file:"+relSlash] = true

			wf, buildErr := buildWalkedFile(absPath, relSlash, info)
			Ck(buildErr)
			*files = append(*files, wf)
		}
	}
	return
}

// globMatch expands pattern (relative to root, possibly containing **)
// into a list of absolute matches. filepath.Match has no "**" concept, so
// for patterns containing "**" we walk the tree and match each candidate
// path's slash-joined relative form component-by-component; plain patterns
// get a "**/" prefix and go through the same walk, so they match at every
// directory depth (since spec.md says file patterns are "matched
// recursively").
func globMatch(root, pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(pattern, "./")
	if strings.Contains(pattern, "**") {
		return globMatchRecursive(root, pattern)
	}
	// plain pattern: match it at every directory depth, same effect as
	// prepending "**/" per original_source/src/fs_utils.rs's load-time
	// glob-expansion rules for non-"**" tracked_files patterns.
	return globMatchRecursive(root, "**/"+pattern)
}

func globMatchRecursive(root, pattern string) (matches []string, err error) {
	defer Return(&err)

	segments := strings.Split(pattern, "/")
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		Ck(walkErr)
		rel, relErr := filepath.Rel(root, path)
		Ck(relErr)
		if rel == "." {
			return nil
		}
		if d.IsDir() && filepath.Base(path) == KiboDir {
			return filepath.SkipDir
		}
		if matchSegments(strings.Split(toSlash(rel), "/"), segments) {
			matches = append(matches, path)
		}
		return nil
	})
	Ck(walkErr)
	return
}

// matchSegments matches a candidate path's components against a pattern's
// components where "**" consumes zero or more components, grounded on the
// same recursive-glob semantics original_source/src/snapshot.rs relies on
// the `glob` crate for.
func matchSegments(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		if matchSegments(path, pattern[1:]) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchSegments(path[1:], pattern)
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pattern[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(path[1:], pattern[1:])
}

// matchIgnorePattern matches a single ignore pattern against relPath,
// trying, in order: gitignore-style glob match, then directory-prefix
// match, then bare path-component match -- the glob -> prefix ->
// component precedence noted in original_source/src/config.rs's
// should_ignore.
func matchIgnorePattern(relPath, pattern string) bool {
	gi := ignore.CompileIgnoreLines(pattern)
	if gi.MatchesPath(relPath) {
		return true
	}
	if strings.HasPrefix(relPath, strings.TrimSuffix(pattern, "/")+"/") || relPath == pattern {
		return true
	}
	for _, comp := range strings.Split(relPath, "/") {
		if comp == pattern {
			return true
		}
	}
	return false
}

func compileIgnore(patterns []string) *ignore.GitIgnore {
	if len(patterns) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(patterns...)
}

func toSlash(p string) string {
	return filepath.ToSlash(p)
}
