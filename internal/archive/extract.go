// Package archive unpacks job payloads. Only deflate/store zip containers are
// accepted; entries that would land outside the destination are rejected.
package archive

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
)

// Limits bounds what a single archive may expand to. Zero disables a limit.
type Limits struct {
	MaxBytes   int64
	MaxEntries int
}

// Stats summarizes an extraction.
type Stats struct {
	Files int
	Dirs  int
	Bytes int64
}

// Extract unpacks the zip at src into dest, which must exist.
func Extract(src, dest string, limits Limits) (Stats, error) {
	var stats Stats
	r, err := zip.OpenReader(src)
	if stderrors.Is(err, zip.ErrInsecurePath) && r != nil {
		// entry paths are validated below
		err = nil
	}
	if err != nil {
		return stats, errors.WrapError(err, errors.CategoryArchive, "payload is not a readable zip archive").
			WithContext("path", src).
			Build()
	}
	defer func() { _ = r.Close() }()

	if limits.MaxEntries > 0 && len(r.File) > limits.MaxEntries {
		return stats, errors.ArchiveError(fmt.Sprintf("archive has %d entries, limit is %d", len(r.File), limits.MaxEntries)).Build()
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return stats, errors.WrapError(err, errors.CategoryFileSystem, "failed to resolve extraction root").Build()
	}

	for _, f := range r.File {
		target, err := entryPath(root, f.Name)
		if err != nil {
			return stats, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return stats, fsErr(err, target)
			}
			stats.Dirs++
			continue
		}
		if !f.Mode().IsRegular() {
			// symlinks and devices are not needed to build and could escape the root
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return stats, fsErr(err, target)
		}
		budget := int64(-1)
		if limits.MaxBytes > 0 {
			budget = limits.MaxBytes - stats.Bytes
		}
		n, err := writeEntry(f, target, budget)
		stats.Bytes += n
		if err != nil {
			return stats, err
		}
		stats.Files++
	}
	return stats, nil
}

// entryPath maps an archive entry name to a path under root.
func entryPath(root, name string) (string, error) {
	clean := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", errors.ArchiveError("archive entry has an absolute path").WithContext("entry", name).Build()
	}
	target := filepath.Join(root, clean)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", errors.ArchiveError("archive entry escapes the extraction root").WithContext("entry", name).Build()
	}
	return target, nil
}

func writeEntry(f *zip.File, target string, budget int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, errors.WrapError(err, errors.CategoryArchive, "failed to open archive entry").
			WithContext("entry", f.Name).
			Build()
	}
	defer func() { _ = rc.Close() }()

	// #nosec G304 -- target was validated by entryPath
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fsErr(err, target)
	}

	var src io.Reader = rc
	if budget >= 0 {
		src = io.LimitReader(rc, budget+1)
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil {
		return n, errors.WrapError(copyErr, errors.CategoryArchive, "failed to inflate archive entry").
			WithContext("entry", f.Name).
			Build()
	}
	if budget >= 0 && n > budget {
		return n, errors.ArchiveError("archive exceeds the uncompressed size limit").
			WithContext("entry", f.Name).
			Build()
	}
	if closeErr != nil {
		return n, fsErr(closeErr, target)
	}
	return n, nil
}

func fsErr(err error, path string) error {
	return errors.WrapError(err, errors.CategoryFileSystem, "failed to write extracted file").
		WithContext("path", path).
		Build()
}
