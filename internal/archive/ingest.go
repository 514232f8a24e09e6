package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dployr/internal/project"
	"dployr/internal/security"
	"dployr/pkg/fileutil"
)

// Request describes one archive to turn into a project.
type Request struct {
	Owner       string
	Project     string
	ProjectPath string
	ArchivePath string
	Port        int
}

func (r Request) validate() error {
	if err := security.ValidateUsername(r.Owner); err != nil {
		return err
	}
	if err := security.ValidateProjectName(r.Project); err != nil {
		return err
	}
	if r.ProjectPath == "" {
		return fmt.Errorf("project path is required")
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("invalid port %d", r.Port)
	}
	return nil
}

// Ingester validates, extracts and prepares uploaded archives.
type Ingester struct {
	Limits Limits
	logger *slog.Logger
}

// NewIngester creates an ingester with DefaultLimits.
func NewIngester(logger *slog.Logger) *Ingester {
	return &Ingester{Limits: DefaultLimits, logger: logger}
}

// Ingest creates req.ProjectPath from req.ArchivePath. Nothing is written
// until the archive passes validation. The uploaded archive is deleted on
// every path, and the project directory is removed again if any later step
// fails.
func (i *Ingester) Ingest(ctx context.Context, req Request) (info *ManifestInfo, err error) {
	defer i.removeUpload(req.ArchivePath)

	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := CheckMagic(req.ArchivePath); err != nil {
		return nil, err
	}

	report, err := Validate(req.ArchivePath, i.Limits)
	if err != nil {
		return nil, err
	}
	if !report.Valid {
		i.logger.Warn("archive_rejected", "project", req.Owner+"/"+req.Project, "errors", report.Errors)
		return nil, &ValidationError{Errors: report.Errors}
	}

	if fileutil.PathExists(req.ProjectPath) {
		return nil, ErrProjectExists
	}
	if err := os.MkdirAll(filepath.Dir(req.ProjectPath), security.PermDirectory); err != nil {
		return nil, fmt.Errorf("failed to create user directory: %w", err)
	}
	if err := os.Mkdir(req.ProjectPath, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrProjectExists
		}
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rerr := os.RemoveAll(req.ProjectPath); rerr != nil {
			i.logger.Warn("project_cleanup_failed", "path", req.ProjectPath, "error", rerr)
		}
	}()

	i.logger.Info("archive_extracting",
		"project", req.Owner+"/"+req.Project,
		"entries", report.EntryCount,
		"uncompressed_bytes", report.UncompressedSize,
	)

	extractWarnings, err := extract(ctx, req.ArchivePath, req.ProjectPath, i.Limits)
	if err != nil {
		return nil, err
	}

	flattened, err := flatten(req.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize layout: %w", err)
	}

	removed := security.RemoveBlockedFiles(req.ProjectPath)
	projectType := DetectProjectType(req.ProjectPath)

	if err := writeManifest(req.ProjectPath, projectType, req.Owner, req.Project, req.Port); err != nil {
		return nil, fmt.Errorf("failed to write runtime files: %w", err)
	}

	warnings := append(report.Warnings, extractWarnings...)
	info = &ManifestInfo{
		ProjectType:  projectType,
		Path:         req.ProjectPath,
		Port:         req.Port,
		ComposeName:  project.ComposeName(req.Owner, req.Project),
		Flattened:    flattened,
		Warnings:     warnings,
		RemovedFiles: removed,
	}

	i.logger.Info("archive_ingested",
		"project", req.Owner+"/"+req.Project,
		"type", string(projectType),
		"flattened", flattened,
		"warnings", len(warnings),
		"removed_files", len(removed),
	)
	return info, nil
}

func (i *Ingester) removeUpload(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		i.logger.Warn("upload_cleanup_failed", "path", path, "error", err)
	}
}
