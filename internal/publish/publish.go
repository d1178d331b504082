// Package publish moves a finished crawl from its scratch directory into a
// storage bucket, one file at a time, and writes a landing index.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/mirror"
	"github.com/JakeFAU/site-mirror/internal/storage"
)

// IndexName is the generated landing page at the root of every mirror.
const IndexName = "index.html"

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Mirror {{.Dest}}</title></head>
<body>
<h1>Mirror {{.Dest}}</h1>
<ul>
{{- range .Entries}}
<li><a href="{{.Href}}">{{.Name}}</a></li>
{{- end}}
</ul>
</body>
</html>
`))

type indexEntry struct {
	Name string
	Href string
}

// Report summarizes a publish.
type Report struct {
	// Files lists destination paths written, relative to the bucket root.
	Files []string
	// Failures holds one entry per file that could not be transferred.
	Failures []*mirror.PublishPartialError
	// Entries lists the top-level names transferred to the destination.
	Entries []string
}

// Publisher transfers scratch trees into a bucket.
type Publisher struct {
	bucket storage.Bucket
	logger *zap.Logger
}

// New constructs a Publisher.
func New(bucket storage.Bucket, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{bucket: bucket, logger: logger}
}

// Publish moves every file under scratchDir to destDir in the bucket.
// Each source file is deleted as soon as its transfer succeeds, so an
// interrupted publish leaves a valid partial destination and a smaller
// scratch tree. A failed transfer is recorded in the report and skipped.
// The scratch directory is removed before returning.
func (p *Publisher) Publish(ctx context.Context, scratchDir, destDir string) (Report, error) {
	var report Report
	destDir = strings.Trim(path.Clean("/"+filepath.ToSlash(destDir)), "/")

	if err := p.bucket.MakeDir(ctx, destDir); err != nil {
		return report, fmt.Errorf("create destination %s: %w", destDir, err)
	}

	top, err := os.ReadDir(scratchDir)
	if err != nil {
		return report, fmt.Errorf("read scratch dir: %w", err)
	}

	if err := p.walk(ctx, scratchDir, destDir, &report); err != nil {
		return report, err
	}

	failed := make(map[string]bool, len(report.Failures))
	for _, f := range report.Failures {
		failed[f.File] = true
	}
	listing := make([]indexEntry, 0, len(top))
	for _, entry := range top {
		if entry.Name() == IndexName || failed[path.Join(destDir, entry.Name())] {
			continue
		}
		if !entry.IsDir() && !entry.Type().IsRegular() {
			continue
		}
		report.Entries = append(report.Entries, entry.Name())
		href := entry.Name()
		if entry.IsDir() {
			href += "/"
		}
		listing = append(listing, indexEntry{Name: entry.Name(), Href: href})
	}

	if err := p.writeIndex(ctx, destDir, listing); err != nil {
		report.Failures = append(report.Failures, &mirror.PublishPartialError{File: path.Join(destDir, IndexName), Err: err})
		p.logger.Warn("index write failed", zap.String("dest", destDir), zap.Error(err))
	}

	if err := os.RemoveAll(scratchDir); err != nil {
		p.logger.Warn("scratch removal failed", zap.String("dir", scratchDir), zap.Error(err))
	}

	p.logger.Info("mirror published",
		zap.String("dest", destDir),
		zap.Int("files", len(report.Files)),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

func (p *Publisher) walk(ctx context.Context, srcDir, destDir string, report *Report) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcDir, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(srcDir, entry.Name())
		dest := path.Join(destDir, entry.Name())

		switch {
		case entry.IsDir():
			if err := p.bucket.MakeDir(ctx, dest); err != nil {
				p.fail(report, dest, err)
				continue
			}
			if err := p.walk(ctx, src, dest, report); err != nil {
				return err
			}
			// Only succeeds once every child has moved.
			_ = os.Remove(src)
		case entry.Type().IsRegular():
			if err := p.transfer(ctx, src, dest); err != nil {
				p.fail(report, dest, err)
				continue
			}
			report.Files = append(report.Files, dest)
			if err := os.Remove(src); err != nil {
				p.logger.Warn("source removal failed", zap.String("file", src), zap.Error(err))
			}
		default:
			p.logger.Warn("skipping non-regular file", zap.String("file", src), zap.Stringer("mode", entry.Type()))
		}
	}
	return nil
}

func (p *Publisher) transfer(ctx context.Context, src, dest string) error {
	contentType := ""
	if p.bucket.Remote() && isHTML(src) {
		mt, err := mimetype.DetectFile(src)
		if err != nil {
			return fmt.Errorf("detect content type: %w", err)
		}
		contentType = mt.String()
	}

	// #nosec G304 -- src comes from walking the run's own scratch directory.
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := p.bucket.PutObject(ctx, dest, contentType, f); err != nil {
		return err
	}
	return nil
}

func (p *Publisher) fail(report *Report, file string, err error) {
	partial := &mirror.PublishPartialError{File: file, Err: err}
	report.Failures = append(report.Failures, partial)
	p.logger.Warn("publish skipped file", zap.String("file", file), zap.Error(err))
}

func (p *Publisher) writeIndex(ctx context.Context, destDir string, entries []indexEntry) error {
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, struct {
		Dest    string
		Entries []indexEntry
	}{Dest: destDir, Entries: entries}); err != nil {
		return fmt.Errorf("render index: %w", err)
	}
	contentType := ""
	if p.bucket.Remote() {
		contentType = "text/html; charset=utf-8"
	}
	if _, err := p.bucket.PutObject(ctx, path.Join(destDir, IndexName), contentType, &buf); err != nil {
		return err
	}
	return nil
}

func isHTML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}
