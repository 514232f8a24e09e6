// Package archive turns uploaded zip archives into runnable projects.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

const (
	// MaxUploadSize is the largest archive accepted for upload.
	MaxUploadSize = 100 << 20
)

var (
	ErrInvalidArchive = errors.New("invalid archive")
	ErrProjectExists  = errors.New("a project with this name already exists")
)

// Limits bounds what an archive may expand to.
type Limits struct {
	MaxEntrySize uint64
	MaxTotalSize uint64
	// MaxRatio is the highest accepted total uncompressed size divided by
	// the archive file size.
	MaxRatio float64
}

// DefaultLimits are applied unless the caller overrides them.
var DefaultLimits = Limits{
	MaxEntrySize: 500 << 20,
	MaxTotalSize: 1 << 30,
	MaxRatio:     100,
}

var magicHeaders = [][]byte{
	{'P', 'K', 0x03, 0x04},
	{'P', 'K', 0x05, 0x06},
	{'P', 'K', 0x07, 0x08},
}

// dangerousExtensions are reported but never block ingestion.
var dangerousExtensions = map[string]bool{
	".exe": true, ".dll": true, ".bat": true, ".cmd": true, ".com": true,
	".scr": true, ".msi": true, ".ps1": true, ".vbs": true, ".jar": true,
	".sh": true,
}

// Report is the outcome of scanning an archive's entry table.
type Report struct {
	Valid            bool     `json:"valid"`
	Errors           []string `json:"errors"`
	Warnings         []string `json:"warnings"`
	UncompressedSize uint64   `json:"uncompressed_size"`
	CompressedSize   uint64   `json:"compressed_size"`
	EntryCount       int      `json:"entry_count"`
}

// ValidationError carries every hard error found in an archive.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "archive rejected: " + strings.Join(e.Errors, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArchive
}

// CheckUpload applies the upload constraints before anything is stored.
func CheckUpload(filename string, size int64) error {
	if !strings.HasSuffix(strings.ToLower(filename), ".zip") {
		return fmt.Errorf("%w: only .zip files are accepted", ErrInvalidArchive)
	}
	if size > MaxUploadSize {
		return fmt.Errorf("%w: upload exceeds %d MiB", ErrInvalidArchive, MaxUploadSize>>20)
	}
	return nil
}

// CheckMagic verifies that the file starts with a zip signature.
func CheckMagic(archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("%w: file too short", ErrInvalidArchive)
	}
	for _, magic := range magicHeaders {
		if bytes.Equal(header, magic) {
			return nil
		}
	}
	return fmt.Errorf("%w: not a zip file", ErrInvalidArchive)
}

// Validate scans the central directory without extracting anything.
// Path traversal, oversized entries, an excessive compression ratio and an
// excessive total size are errors; risky file types are warnings.
func Validate(archivePath string, limits Limits) (*Report, error) {
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, err
	}

	r, err := openZip(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	report := &Report{
		Errors:         []string{},
		Warnings:       []string{},
		CompressedSize: uint64(info.Size()),
		EntryCount:     len(r.File),
	}

	for _, f := range r.File {
		name := f.Name
		if unsafeEntryName(name) {
			report.Errors = append(report.Errors, fmt.Sprintf("path traversal detected: %s", name))
			continue
		}
		if dangerousExtensions[strings.ToLower(path.Ext(name))] {
			report.Warnings = append(report.Warnings, fmt.Sprintf("potentially dangerous file: %s", name))
		}
		if f.UncompressedSize64 > limits.MaxEntrySize {
			report.Errors = append(report.Errors, fmt.Sprintf("file too large: %s (%d MiB)", name, f.UncompressedSize64>>20))
		}
		report.UncompressedSize += f.UncompressedSize64
	}

	if report.CompressedSize > 0 {
		ratio := float64(report.UncompressedSize) / float64(report.CompressedSize)
		if ratio > limits.MaxRatio {
			report.Errors = append(report.Errors, fmt.Sprintf("suspicious compression ratio (%.0f:1), possible zip bomb", ratio))
		}
	}
	if report.UncompressedSize > limits.MaxTotalSize {
		report.Errors = append(report.Errors, fmt.Sprintf("archive too large when extracted (%d MiB)", report.UncompressedSize>>20))
	}

	report.Valid = len(report.Errors) == 0
	return report, nil
}

// openZip opens an archive even when it contains non-local names, so that
// those names are reported by Validate rather than hidden behind a
// generic open error.
func openZip(archivePath string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && r != nil) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return r, nil
}

func unsafeEntryName(name string) bool {
	return strings.Contains(name, "..") ||
		strings.HasPrefix(name, "/") ||
		strings.HasPrefix(name, `\`)
}
