// Package service is the document API the shells talk to: scanning a
// library, reading comic pages and covers, and loading text documents.
//
// Every call is independent. A container is opened, used and closed within
// one call, so calls may run concurrently against any containers.
package service

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/metcalfc/panels/internal/archive"
	"github.com/metcalfc/panels/internal/catalog"
	"github.com/metcalfc/panels/internal/datauri"
	"github.com/metcalfc/panels/internal/reader"
)

// ComicInfo describes a comic container.
type ComicInfo struct {
	Filename   string `json:"filename"`
	TotalPages int    `json:"total_pages"`
}

// Service implements the document calls.
type Service struct {
	logger     *zap.Logger
	scanOpts   []catalog.Option
	coverLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithScanOptions passes options to every catalog scan.
func WithScanOptions(opts ...catalog.Option) Option {
	return func(s *Service) { s.scanOpts = append(s.scanOpts, opts...) }
}

// WithCoverWorkers limits how many covers Covers decodes at once.
func WithCoverWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.coverLimit = n
		}
	}
}

// New creates a Service.
func New(opts ...Option) *Service {
	s := &Service{
		logger:     zap.NewNop(),
		coverLimit: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanFolder returns the catalog of documents under root. Unreadable
// subdirectories are logged and left out.
func (s *Service) ScanFolder(root string) ([]catalog.Entry, error) {
	opts := append([]catalog.Option{catalog.WithLogger(s.logger)}, s.scanOpts...)
	res, err := catalog.Scan(root, opts...)
	if err != nil {
		s.logger.Warn("scan failed", zap.String("root", root), zap.Error(err))
		return nil, err
	}
	for _, sk := range res.Skipped {
		s.logger.Info("skipped unreadable path", zap.String("path", sk.Path), zap.Error(sk.Err))
	}
	return res.Entries, nil
}

// withContainer opens path, runs fn and closes the container.
func (s *Service) withContainer(path string, fn func(*archive.Container) error) error {
	c, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// GetCover returns the first page of a comic as a data URI, or "" when the
// container has no pages.
func (s *Service) GetCover(path string) (string, error) {
	var cover string
	err := s.withContainer(path, func(c *archive.Container) error {
		if c.PageCount() == 0 {
			return nil
		}
		ref, _ := c.Page(0)
		asset, err := c.DecodePage(ref)
		if err != nil {
			return err
		}
		cover = asset.String()
		return nil
	})
	return cover, err
}

// GetComicInfo returns the file name and page count of a comic.
func (s *Service) GetComicInfo(path string) (ComicInfo, error) {
	var info ComicInfo
	err := s.withContainer(path, func(c *archive.Container) error {
		info = ComicInfo{
			Filename:   filepath.Base(path),
			TotalPages: c.PageCount(),
		}
		return nil
	})
	return info, err
}

// LoadPage returns page index of a comic as a data URI.
func (s *Service) LoadPage(path string, index int) (string, error) {
	asset, _, err := s.LoadPageBytes(path, index)
	if err != nil {
		return "", err
	}
	return asset.String(), nil
}

// LoadPageBytes returns page index of a comic both as an asset and as raw
// bytes, for shells that render images directly.
func (s *Service) LoadPageBytes(path string, index int) (datauri.Asset, []byte, error) {
	var (
		asset datauri.Asset
		data  []byte
	)
	err := s.withContainer(path, func(c *archive.Container) error {
		ref, err := c.Page(index)
		if err != nil {
			return err
		}
		data, err = c.ReadPage(ref)
		if err != nil {
			return err
		}
		asset = datauri.New(ref.Kind.Mime(), data)
		return nil
	})
	if err != nil {
		s.logger.Debug("load page failed", zap.String("path", path), zap.Int("index", index), zap.Error(err))
		return datauri.Asset{}, nil, err
	}
	return asset, data, nil
}

// LoadTextFile returns the content of a text document unchanged.
func (s *Service) LoadTextFile(path string) (string, error) {
	text, err := reader.ExtractText(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return text, nil
}

// GetTextInfo returns character and line counts for a text document.
func (s *Service) GetTextInfo(path string) (reader.Stats, error) {
	st, err := reader.ReadStats(path)
	if err != nil {
		return reader.Stats{}, fmt.Errorf("failed to read file: %w", err)
	}
	return st, nil
}

// Covers fills in the Cover of every Zip entry, decoding up to the configured
// number of covers at once. A cover that fails to load is left empty and
// logged; Covers only returns ctx's error.
func (s *Service) Covers(ctx context.Context, entries []catalog.Entry) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.coverLimit)
	for i := range entries {
		if entries[i].Kind != catalog.Zip {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cover, err := s.GetCover(entries[i].Path)
			if err != nil {
				s.logger.Warn("cover unavailable", zap.String("path", entries[i].Path), zap.Error(err))
				return nil
			}
			entries[i].Cover = cover
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
