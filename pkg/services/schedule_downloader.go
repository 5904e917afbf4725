package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/config"
	"github.com/piculi-bot/piculi-engine/pkg/fetcher"
	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/parser"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
	"github.com/piculi-bot/piculi-engine/pkg/storage"
	"github.com/piculi-bot/piculi-engine/pkg/workerpool"
)

// DownloadedDocument is a schedule document that was new or changed.
type DownloadedDocument struct {
	Group    string
	Filename string
	Path     string
	Body     []byte
	Hash     string
}

// ScheduleDownloader fetches the current schedule documents of tracked groups.
type ScheduleDownloader interface {
	// Download makes groups tracked when given, otherwise uses the tracked
	// set, and returns only documents whose content is new or changed.
	// Fetch failures skip the document; persistence failures are returned
	// alongside whatever was downloaded.
	Download(ctx context.Context, groups []string, progress ProgressSink) ([]DownloadedDocument, error)
}

type scheduleDownloader struct {
	site      config.SiteConfig
	validity  time.Duration
	fetcher   DocumentFetcher
	store     *storage.ArtifactStore
	pool      *workerpool.Pool
	groupRepo repositories.TrackedGroupRepository
	fileRepo  repositories.ProcessedFileRepository
	logger    *zap.Logger
	now       func() time.Time
}

// NewScheduleDownloader creates a new schedule downloader.
func NewScheduleDownloader(
	site config.SiteConfig,
	retention config.RetentionConfig,
	fetcher DocumentFetcher,
	store *storage.ArtifactStore,
	pool *workerpool.Pool,
	groupRepo repositories.TrackedGroupRepository,
	fileRepo repositories.ProcessedFileRepository,
	logger *zap.Logger,
) ScheduleDownloader {
	return &scheduleDownloader{
		site:      site,
		validity:  retention.LinkValidity,
		fetcher:   fetcher,
		store:     store,
		pool:      pool,
		groupRepo: groupRepo,
		fileRepo:  fileRepo,
		logger:    logger.Named("schedule-downloader"),
		now:       time.Now,
	}
}

var _ ScheduleDownloader = (*scheduleDownloader)(nil)

func (d *scheduleDownloader) Download(ctx context.Context, groups []string, progress ProgressSink) ([]DownloadedDocument, error) {
	if len(groups) > 0 {
		if err := d.groupRepo.UpsertTracked(ctx, groups); err != nil {
			return nil, fmt.Errorf("failed to track requested groups: %w", err)
		}
	} else {
		tracked, err := d.groupRepo.ListTracked(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tracked groups: %w", err)
		}
		groups = tracked
	}
	if len(groups) == 0 {
		d.logger.Info("No tracked groups, nothing to download")
		return nil, nil
	}

	links, ok := d.currentLinks(ctx, groups)
	if !ok || len(links) == 0 {
		return nil, nil
	}

	items := make([]workerpool.WorkItem[[]DownloadedDocument], 0, len(links))
	for _, shared := range links {
		items = append(items, workerpool.WorkItem[[]DownloadedDocument]{
			ID: shared[0].Filename,
			Execute: func(ctx context.Context) ([]DownloadedDocument, error) {
				return d.download(ctx, shared)
			},
		})
	}

	results := workerpool.Process(ctx, d.pool, items, func(completed, total int) {
		report(ctx, progress, d.logger,
			fmt.Sprintf("Downloaded %d/%d schedules", completed, total),
			Fraction(0.1+0.2*float64(completed)/float64(total)))
	})

	var docs []DownloadedDocument
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		docs = append(docs, r.Result...)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Group != docs[j].Group {
			return docs[i].Group < docs[j].Group
		}
		return docs[i].Filename < docs[j].Filename
	})

	d.logger.Info("Schedule download finished",
		zap.Int("groups", len(groups)),
		zap.Int("files", len(links)),
		zap.Int("new_or_changed", len(docs)),
		zap.Int("errors", len(errs)))

	return docs, errors.Join(errs...)
}

// currentLinks reads the listing page and keeps links still within their
// validity window, one per (group, file name). Links of different groups that
// name the same file are bucketed together, since the ledger knows the file
// only by name.
func (d *scheduleDownloader) currentLinks(ctx context.Context, groups []string) ([][]parser.ScheduleLink, bool) {
	page, err := d.fetcher.Text(ctx, d.site.ScheduleURL)
	if err != nil {
		d.logger.Warn("Failed to fetch schedule listing", zap.Error(err))
		return nil, false
	}

	links, err := parser.ParseScheduleDirectory(strings.NewReader(page), d.site.BaseURL, groups)
	if err != nil {
		d.logger.Warn("Failed to parse schedule listing", zap.Error(err))
		return nil, false
	}

	type linkKey struct{ group, filename string }
	today := d.now()
	seen := make(map[linkKey]bool)
	byFile := make(map[string]int)
	var current [][]parser.ScheduleLink
	for _, link := range links {
		if !link.IsCurrent(today, d.validity) {
			d.logger.Debug("Skipping outdated schedule",
				zap.String("group", link.Group),
				zap.String("filename", link.Filename),
				zap.Timep("valid_to", link.ValidTo))
			continue
		}
		key := linkKey{link.Group, link.Filename}
		if seen[key] {
			continue
		}
		seen[key] = true
		if i, ok := byFile[link.Filename]; ok {
			current[i] = append(current[i], link)
			continue
		}
		byFile[link.Filename] = len(current)
		current = append(current, []parser.ScheduleLink{link})
	}
	return current, true
}

// download fetches one file once for every group listing it. A group gets a
// document when the content changed or its own copy is missing.
func (d *scheduleDownloader) download(ctx context.Context, links []parser.ScheduleLink) ([]DownloadedDocument, error) {
	first := links[0]
	paths := make([]string, len(links))
	missing := make([]bool, len(links))
	gate := ""
	for i, link := range links {
		paths[i] = d.store.SchedulePath(link.Group, link.Filename)
		missing[i] = !d.store.Exists(paths[i])
		if missing[i] && gate == "" {
			gate = paths[i]
		}
	}

	// With every copy present the fetcher's gate alone decides; otherwise the
	// ledger tells which present copies are stale.
	prev := ""
	if gate == "" {
		gate = paths[0]
	} else if len(links) > 1 {
		prev, _ = d.fileRepo.GetHash(ctx, first.Filename)
	}

	res := d.fetcher.Fetch(ctx, first.URL, first.Filename, gate)
	switch res.Outcome {
	case fetcher.FetchFailed:
		d.logger.Warn("Failed to download schedule",
			zap.String("group", first.Group),
			zap.String("url", first.URL),
			zap.Error(res.Err))
		return nil, nil
	case fetcher.Unchanged:
		return nil, nil
	}

	var docs []DownloadedDocument
	for i, link := range links {
		if !missing[i] && prev != "" && prev == res.Hash {
			continue
		}
		if err := d.store.Save(paths[i], res.Body); err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", link.Filename, err)
		}
		docs = append(docs, DownloadedDocument{
			Group:    link.Group,
			Filename: link.Filename,
			Path:     paths[i],
			Body:     res.Body,
			Hash:     res.Hash,
		})
	}
	if err := d.fileRepo.Upsert(ctx, first.Filename, res.Hash, models.FileTypeSchedule); err != nil {
		return nil, fmt.Errorf("failed to record %s: %w", first.Filename, err)
	}

	for _, doc := range docs {
		d.logger.Info("Downloaded schedule",
			zap.String("group", doc.Group),
			zap.String("filename", doc.Filename),
			zap.Int("bytes", len(res.Body)))
	}
	return docs, nil
}
