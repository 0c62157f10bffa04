// Package backup writes point-in-time copies of the Bridge database and
// optionally ships them to S3-compatible storage. Without a bucket the
// NoopUploader is used and backups stay on local disk.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/bridge/internal/metrics"
)

const (
	filePrefix = "bridge-"
	fileSuffix = ".db"
	nameFormat = "20060102T150405.000Z"
)

// Source produces a consistent database copy at destPath.
type Source interface {
	Backup(ctx context.Context, destPath string) error
}

// Result describes one completed backup.
type Result struct {
	Path      string
	ObjectKey string
	Uploaded  bool
}

// Service runs backups into a local directory, uploads them, and prunes
// old local copies.
type Service struct {
	source   Source
	uploader Uploader
	dir      string
	retain   int
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used to name backup files.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records backup results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service. retain below 1 keeps a single local copy.
func NewService(source Source, uploader Uploader, dir string, retain int, opts ...Option) *Service {
	if retain < 1 {
		retain = 1
	}
	s := &Service{
		source:   source,
		uploader: uploader,
		dir:      dir,
		retain:   retain,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "backup")
	return s
}

// Run takes one backup. An upload failure is returned after the local copy
// has been written; the local copy is kept.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	res, err := s.run(ctx)
	s.metrics.ObserveBackup(err)
	return res, err
}

func (s *Service) run(ctx context.Context) (*Result, error) {
	name := filePrefix + s.now().UTC().Format(nameFormat) + fileSuffix
	res := &Result{Path: filepath.Join(s.dir, name)}

	if err := s.source.Backup(ctx, res.Path); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}
	s.logger.Info("backup written", "action", "backup_written", "path", res.Path)

	if s.uploader.Enabled() {
		key, err := s.uploader.Upload(ctx, name, res.Path)
		if err != nil {
			return res, err
		}
		res.ObjectKey = key
		res.Uploaded = true
		s.logger.Info("backup uploaded", "action", "backup_uploaded", "key", key)
	}

	if err := s.prune(); err != nil {
		s.logger.Warn("backup prune failed", "action", "backup_prune_failed", "error", err)
	}
	return res, nil
}

// PresignedURL returns a download URL for the latest uploaded backup.
func (s *Service) PresignedURL(ctx context.Context) (string, time.Time, error) {
	return s.uploader.PresignedURL(ctx)
}

// prune removes local backups beyond the newest retain copies. Names sort
// chronologically.
func (s *Service) prune() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) <= s.retain {
		return nil
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-s.retain] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return err
		}
		s.logger.Debug("backup pruned", "path", name)
	}
	return nil
}
