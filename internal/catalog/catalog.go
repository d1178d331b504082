// Package catalog records completed mirrors and enforces their retention.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/mirror"
	"github.com/JakeFAU/site-mirror/internal/storage"
)

// Pagination defaults for List.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Repository persists artifact rows.
type Repository interface {
	Insert(ctx context.Context, a mirror.Artifact) error
	// List returns artifacts newest first along with the total count.
	List(ctx context.Context, limit, offset int) ([]mirror.Artifact, int, error)
	// CreatedBefore returns artifacts created at or before cutoff.
	CreatedBefore(ctx context.Context, cutoff time.Time) ([]mirror.Artifact, error)
	// Delete removes a row. Deleting a missing row is not an error.
	Delete(ctx context.Context, id string) error
}

// Page is one page of catalog entries.
type Page struct {
	Items   []mirror.Artifact `json:"items"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
}

// Catalog ties artifact rows to the files they describe.
type Catalog struct {
	repo   Repository
	bucket storage.Bucket
	ids    mirror.IDGenerator
	clock  mirror.Clock
	ttl    time.Duration
	logger *zap.Logger
}

// Config holds catalog settings.
type Config struct {
	// TTL is how long a mirror is retained. Zero disables expiry.
	TTL time.Duration
}

// New constructs a Catalog.
func New(repo Repository, bucket storage.Bucket, ids mirror.IDGenerator, clock mirror.Clock, cfg Config, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{repo: repo, bucket: bucket, ids: ids, clock: clock, ttl: cfg.TTL, logger: logger}
}

// TTL returns the retention window.
func (c *Catalog) TTL() time.Duration {
	return c.ttl
}

// PublicURL returns the address a mirror stored at destDir is served from.
func (c *Catalog) PublicURL(destDir string) string {
	return c.bucket.PublicURL(destDir)
}

// Record stores a completed mirror and returns its id.
func (c *Catalog) Record(ctx context.Context, destDir string, changelog []string) (string, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("artifact id: %w", err)
	}
	artifact := mirror.Artifact{
		ID:          id,
		CreatedAt:   c.clock.Now().UTC(),
		Changelog:   append([]string{}, changelog...),
		StoragePath: destDir,
		PublicURL:   c.bucket.PublicURL(destDir),
	}
	if err := c.repo.Insert(ctx, artifact); err != nil {
		return "", fmt.Errorf("record artifact: %w", err)
	}
	c.logger.Info("mirror recorded",
		zap.String("artifact_id", id),
		zap.String("storage_path", destDir),
		zap.Int("changes", len(changelog)),
	)
	return id, nil
}

// List returns artifacts newest first. Pages are 1-based.
func (c *Catalog) List(ctx context.Context, page, perPage int) (Page, error) {
	if page < 1 {
		page = 1
	}
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	items, total, err := c.repo.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return Page{}, fmt.Errorf("list artifacts: %w", err)
	}
	if items == nil {
		items = []mirror.Artifact{}
	}
	return Page{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// Expire removes every artifact whose retention window has closed at now,
// deleting its files before its row. Each artifact is handled on its own
// so mirrors recorded mid-scan are unaffected, and a failure on one does
// not stop the rest. Calling Expire again is a no-op.
func (c *Catalog) Expire(ctx context.Context, now time.Time) (int, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	candidates, err := c.repo.CreatedBefore(ctx, now.Add(-c.ttl))
	if err != nil {
		return 0, fmt.Errorf("scan expired artifacts: %w", err)
	}

	var (
		removed int
		errs    []error
	)
	for _, a := range candidates {
		if !a.Expired(c.ttl, now) {
			continue
		}
		if err := c.bucket.DeletePrefix(ctx, a.StoragePath); err != nil {
			c.logger.Warn("artifact files not removed", zap.String("artifact_id", a.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("delete files for %s: %w", a.ID, err))
			continue
		}
		if err := c.repo.Delete(ctx, a.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete artifact %s: %w", a.ID, err))
			continue
		}
		removed++
		c.logger.Info("mirror expired", zap.String("artifact_id", a.ID), zap.Time("created_at", a.CreatedAt))
	}
	return removed, errors.Join(errs...)
}
