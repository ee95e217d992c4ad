// Package discovery locates build manifests and produced artifacts inside a
// job's working tree. Results are ordered by their slash-separated path
// relative to the search root, so the first element is a stable choice for
// identical inputs regardless of filesystem iteration order.
package discovery

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
)

// Match is a file found under a search root.
type Match struct {
	Path string // absolute path
	Rel  string // slash-separated path relative to the root
}

// FindManifests returns every regular file whose extension equals ext (case-insensitive).
func FindManifests(root, ext string) ([]Match, error) {
	return find(root, func(name string) bool {
		return strings.EqualFold(filepath.Ext(name), ext)
	})
}

// FindArtifacts returns every regular file whose base name matches pattern.
func FindArtifacts(root, pattern string) ([]Match, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.ValidationError("invalid artifact pattern").WithContext("pattern", pattern).WithCause(err).Build()
	}
	return find(root, func(name string) bool {
		ok, _ := filepath.Match(pattern, name)
		return ok
	})
}

// Listing returns every entry below root as slash-separated relative paths,
// directories suffixed with "/".
func Listing(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, walkErr(err, root)
	}
	sort.Strings(out)
	return out, nil
}

func find(root string, keep func(name string) bool) ([]Match, error) {
	var out []Match
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !keep(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, Match{Path: path, Rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, walkErr(err, root)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out, nil
}

func walkErr(err error, root string) error {
	return errors.WrapError(err, errors.CategoryFileSystem, "failed to walk working tree").
		WithContext("root", root).
		Build()
}
