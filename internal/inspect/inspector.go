// Package inspect scans downloaded archives for flashable payload
// files. Only entry headers are read; contents are never extracted.
package inspect

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/laerdal/simimager/internal/source"
)

// PayloadFile is one flashable entry discovered inside an archive.
type PayloadFile struct {
	EntryPath   string
	SizeBytes   int64
	DisplayName string
	Kind        source.PayloadKind
}

// Inspector scans local archive files. Scans are read-only and
// idempotent: the same unmodified file always yields the same result.
type Inspector struct {
	logger *slog.Logger
}

// New creates an inspector.
func New(logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{logger: logger}
}

// Scan returns the payload files found in the archive at path. A
// missing, malformed, or unreadable archive yields an empty result,
// never an error: callers treat it the same as "no payload files",
// and a corrupt cache entry simply becomes a cache miss. Failures are
// still logged so they remain diagnosable.
func (i *Inspector) Scan(archivePath string) []PayloadFile {
	name := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return i.scanZip(archivePath)
	case strings.HasSuffix(name, ".tar"):
		return i.scanTar(archivePath, nil)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return i.scanTar(archivePath, wrapGzip)
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return i.scanTar(archivePath, wrapXZ)
	case strings.HasSuffix(name, ".tar.zst"):
		return i.scanTar(archivePath, wrapZstd)
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return i.scanTar(archivePath, wrapBzip2)
	default:
		// Artifacts are zip files regardless of what the name says.
		return i.scanZip(archivePath)
	}
}

// scanZip walks the central directory; entry contents are untouched.
func (i *Inspector) scanZip(archivePath string) []PayloadFile {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		i.logger.Warn("cannot open archive", "path", archivePath, "error", err)
		return nil
	}
	defer zr.Close()

	var found []PayloadFile
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		kind, ok := source.MatchPayloadKind(f.Name)
		if !ok {
			continue
		}
		found = append(found, PayloadFile{
			EntryPath:   f.Name,
			SizeBytes:   int64(f.UncompressedSize64),
			DisplayName: path.Base(f.Name),
			Kind:        kind,
		})
	}
	return found
}

type decompressFunc func(io.Reader) (io.Reader, func() error, error)

func (i *Inspector) scanTar(archivePath string, wrap decompressFunc) []PayloadFile {
	file, err := os.Open(archivePath)
	if err != nil {
		i.logger.Warn("cannot open archive", "path", archivePath, "error", err)
		return nil
	}
	defer file.Close()

	var r io.Reader = file
	if wrap != nil {
		wrapped, closeFn, err := wrap(file)
		if err != nil {
			i.logger.Warn("cannot decompress archive", "path", archivePath, "error", err)
			return nil
		}
		if closeFn != nil {
			defer closeFn()
		}
		r = wrapped
	}

	var found []PayloadFile
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A truncated tail still leaves valid earlier entries.
			i.logger.Warn("archive scan stopped early", "path", archivePath, "error", err)
			break
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		kind, ok := source.MatchPayloadKind(hdr.Name)
		if !ok {
			continue
		}
		found = append(found, PayloadFile{
			EntryPath:   hdr.Name,
			SizeBytes:   hdr.Size,
			DisplayName: path.Base(hdr.Name),
			Kind:        kind,
		})
	}
	return found
}

func wrapGzip(r io.Reader) (io.Reader, func() error, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return gr, gr.Close, nil
}

func wrapXZ(r io.Reader) (io.Reader, func() error, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return xr, nil, nil
}

func wrapZstd(r io.Reader) (io.Reader, func() error, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return zr.IOReadCloser(), func() error { zr.Close(); return nil }, nil
}

func wrapBzip2(r io.Reader) (io.Reader, func() error, error) {
	return bzip2.NewReader(r), nil, nil
}
