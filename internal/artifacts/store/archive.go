package store

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/botpanel-dev/bot-panel-backend/internal/artifacts/domain"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

type archiveKind int

const (
	archiveNone archiveKind = iota
	archiveZip
	archiveTarGz
	archiveTarZst
)

// entry is one regular file decoded from an archive, already flattened to
// a single path element.
type entry struct {
	name string
	data []byte
}

func detectArchive(name string) archiveKind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return archiveZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return archiveTarGz
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return archiveTarZst
	default:
		return archiveNone
	}
}

// extract decodes every regular file held by the archive. Any entry whose
// path would land outside the owner's namespace fails the whole archive.
func extract(kind archiveKind, data []byte) ([]entry, error) {
	var (
		files []entry
		err   error
	)

	switch kind {
	case archiveZip:
		files, err = extractZip(data)
	case archiveTarGz:
		var zr *gzip.Reader
		zr, err = gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArchive, err)
		}
		defer zr.Close()
		files, err = extractTar(zr)
	case archiveTarZst:
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderMaxMemory(64<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArchive, err)
		}
		defer dec.Close()
		files, err = extractTar(dec)
	default:
		return nil, fmt.Errorf("%w: unsupported format", domain.ErrInvalidArchive)
	}
	if err != nil {
		return nil, err
	}

	files = dedupe(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", domain.ErrInvalidArchive)
	}
	return files, nil
}

func extractZip(data []byte) ([]entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArchive, err)
	}

	// Validate every name before decoding anything.
	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		name, err := entryName(f.Name)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}

	var out []entry
	for i, f := range zr.File {
		mode := f.Mode()
		if mode.IsDir() {
			continue
		}
		if !mode.IsRegular() {
			return nil, fmt.Errorf("%w: %q is not a regular file", domain.ErrUnsafeArchive, f.Name)
		}
		if len(out) >= domain.MaxArtifacts {
			return nil, domain.ErrCapacityExceeded
		}
		if f.UncompressedSize64 > domain.MaxArtifactSize {
			return nil, domain.ErrPayloadTooLarge
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %q: %v", domain.ErrInvalidArchive, f.Name, err)
		}
		body, err := readCapped(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, entry{name: names[i], data: body})
	}
	return out, nil
}

func extractTar(r io.Reader) ([]entry, error) {
	tr := tar.NewReader(r)

	var out []entry
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArchive, err)
		}

		name, err := entryName(hdr.Name)
		if err != nil {
			return nil, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
		default:
			return nil, fmt.Errorf("%w: %q is not a regular file", domain.ErrUnsafeArchive, hdr.Name)
		}

		if len(out) >= domain.MaxArtifacts {
			return nil, domain.ErrCapacityExceeded
		}
		if hdr.Size > domain.MaxArtifactSize {
			return nil, domain.ErrPayloadTooLarge
		}

		body, err := readCapped(tr)
		if err != nil {
			return nil, err
		}
		out = append(out, entry{name: name, data: body})
	}
	return out, nil
}

// entryName resolves an archive path relative to the owner namespace and
// flattens nested directories into one file name ("lib/x.py" -> "lib_x.py").
func entryName(raw string) (string, error) {
	n := strings.ReplaceAll(raw, "\\", "/")
	if strings.HasPrefix(n, "/") || filepath.VolumeName(n) != "" {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsafeArchive, raw)
	}

	clean := path.Clean(n)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsafeArchive, raw)
	}

	flat := strings.ReplaceAll(clean, "/", "_")
	if !domain.ValidName(flat) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidName, raw)
	}
	return flat, nil
}

// dedupe keeps the last occurrence of each name, preserving first-seen order.
func dedupe(files []entry) []entry {
	index := make(map[string]int, len(files))
	var out []entry
	for _, f := range files {
		if i, ok := index[f.name]; ok {
			out[i] = f
			continue
		}
		index[f.name] = len(out)
		out = append(out, f)
	}
	return out
}

// readCapped consumes r and fails once more than MaxArtifactSize bytes
// have been read.
func readCapped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, domain.MaxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if len(data) > domain.MaxArtifactSize {
		return nil, domain.ErrPayloadTooLarge
	}
	return data, nil
}
