package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"mssql-backup-verify/internal/apperrors"
	"mssql-backup-verify/internal/logging"
)

// Payload is a backup file discovered inside an extracted archive.
type Payload struct {
	Path string
	Size int64
}

// Extractor unpacks backup archives into unique working directories.
type Extractor struct {
	WorkRoot string
	Logger   *logging.Logger
}

// NewExtractor creates an extractor rooted at workRoot. An empty workRoot
// falls back to the system temp directory.
func NewExtractor(workRoot string, logger *logging.Logger) *Extractor {
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	return &Extractor{WorkRoot: workRoot, Logger: logger}
}

// NewWorkDir creates a fresh working directory. Concurrent extractions never
// share a directory.
func (e *Extractor) NewWorkDir() (string, error) {
	name := "sql_restore_" + uuid.New().String()[:8]
	dir := filepath.Join(e.WorkRoot, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperrors.NewExtractionError("failed to create working directory", err)
	}
	return dir, nil
}

// Extract unpacks the archive into a new working directory and returns the
// .bak payloads found inside. The working directory is returned even on
// failure so the caller can clean it up.
func (e *Extractor) Extract(ctx context.Context, archivePath string) (workDir string, payloads []Payload, err error) {
	start := time.Now()
	defer func() {
		if e.Logger != nil {
			e.Logger.LogExtraction(archivePath, workDir, len(payloads), time.Since(start), err)
		}
	}()

	workDir, err = e.NewWorkDir()
	if err != nil {
		return "", nil, err
	}

	if err := ctx.Err(); err != nil {
		return workDir, nil, apperrors.Classify(err)
	}

	switch {
	case hasSuffix(archivePath, ".zip"):
		err = extractZip(archivePath, workDir)
	case hasSuffix(archivePath, ".tar.gz"), hasSuffix(archivePath, ".tgz"):
		err = extractTar(archivePath, workDir, func(r io.Reader) (io.Reader, func(), error) {
			gz, gerr := gzip.NewReader(r)
			if gerr != nil {
				return nil, nil, gerr
			}
			return gz, func() { gz.Close() }, nil
		})
	case hasSuffix(archivePath, ".tar.zst"):
		err = extractTar(archivePath, workDir, func(r io.Reader) (io.Reader, func(), error) {
			zr, zerr := zstd.NewReader(r)
			if zerr != nil {
				return nil, nil, zerr
			}
			return zr, zr.Close, nil
		})
	case hasSuffix(archivePath, ".tar.lz4"):
		err = extractTar(archivePath, workDir, func(r io.Reader) (io.Reader, func(), error) {
			return lz4.NewReader(r), func() {}, nil
		})
	default:
		err = apperrors.NewExtractionError(
			fmt.Sprintf("unsupported archive format: %s", filepath.Base(archivePath)), nil)
	}
	if err != nil {
		return workDir, nil, apperrors.Wrap(err, "archive extraction failed")
	}

	payloads, err = findPayloads(workDir)
	if err != nil {
		return workDir, nil, err
	}
	if len(payloads) == 0 {
		return workDir, nil, apperrors.NewExtractionError(
			"archive contains no .bak payload", nil).
			WithContext("archive", archivePath)
	}
	return workDir, payloads, nil
}

func hasSuffix(path, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(path), suffix)
}

// safeJoin rejects entry names that would escape the destination directory.
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", apperrors.NewExtractionError(
			fmt.Sprintf("archive entry escapes destination: %s", name), nil)
	}
	return target, nil
}

func extractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return apperrors.NewExtractionError("failed to open zip archive", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		target, err := safeJoin(destDir, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := copyZipEntry(file, target); err != nil {
			return apperrors.NewExtractionError(
				fmt.Sprintf("failed to extract %s", file.Name), err)
		}
	}
	return nil
}

func copyZipEntry(file *zip.File, target string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// extractTar unpacks a compressed tar stream; wrap supplies the
// decompression layer for the concrete format.
func extractTar(archivePath, destDir string, wrap func(io.Reader) (io.Reader, func(), error)) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return apperrors.NewExtractionError("failed to open archive", err)
	}
	defer f.Close()

	decompressed, closeFn, err := wrap(f)
	if err != nil {
		return apperrors.NewExtractionError("failed to open compression stream", err)
	}
	defer closeFn()

	tr := tar.NewReader(decompressed)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apperrors.NewExtractionError("failed to read tar stream", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(dst, tr); err != nil {
				dst.Close()
				return apperrors.NewExtractionError(
					fmt.Sprintf("failed to extract %s", header.Name), err)
			}
			dst.Close()
		}
	}
}

// findPayloads walks the extracted tree for .bak files (case-insensitive).
func findPayloads(workDir string) ([]Payload, error) {
	var payloads []Payload
	err := filepath.Walk(workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".bak") {
			payloads = append(payloads, Payload{Path: path, Size: info.Size()})
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewExtractionError("failed to scan extracted files", err)
	}
	return payloads, nil
}
