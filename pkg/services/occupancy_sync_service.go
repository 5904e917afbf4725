package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/config"
	"github.com/piculi-bot/piculi-engine/pkg/database"
	"github.com/piculi-bot/piculi-engine/pkg/fetcher"
	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/parser"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
	"github.com/piculi-bot/piculi-engine/pkg/workerpool"
)

// Transactor runs fn in one database transaction carried by ctx.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ Transactor = (*database.DB)(nil)

// OccupancySummary reports one occupancy refresh.
type OccupancySummary struct {
	Reports   int `json:"reports"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Reapplied int `json:"reapplied"`
	Failed    int `json:"failed"`
	Records   int `json:"records"`
}

// OccupancySyncService refreshes room occupancy from the site's reports.
type OccupancySyncService interface {
	// Refresh fetches the current reports and replaces the stored rows of
	// every report whose content changed. An unreachable index yields an
	// empty summary; persistence failures are returned.
	Refresh(ctx context.Context) (*OccupancySummary, error)
}

type occupancySyncService struct {
	site          config.SiteConfig
	cfg           config.OccupancyConfig
	fetcher       DocumentFetcher
	pool          *workerpool.Pool
	tx            Transactor
	occupancyRepo repositories.OccupancyRepository
	fileRepo      repositories.ProcessedFileRepository
	logger        *zap.Logger
	now           func() time.Time
}

// NewOccupancySyncService creates a new occupancy sync service.
func NewOccupancySyncService(
	site config.SiteConfig,
	cfg config.OccupancyConfig,
	fetcher DocumentFetcher,
	pool *workerpool.Pool,
	tx Transactor,
	occupancyRepo repositories.OccupancyRepository,
	fileRepo repositories.ProcessedFileRepository,
	logger *zap.Logger,
) OccupancySyncService {
	return &occupancySyncService{
		site:          site,
		cfg:           cfg,
		fetcher:       fetcher,
		pool:          pool,
		tx:            tx,
		occupancyRepo: occupancyRepo,
		fileRepo:      fileRepo,
		logger:        logger.Named("occupancy-sync"),
		now:           time.Now,
	}
}

var _ OccupancySyncService = (*occupancySyncService)(nil)

type fetchedReport struct {
	report parser.OccupancyReport
	result fetcher.Result
}

func (s *occupancySyncService) Refresh(ctx context.Context) (*OccupancySummary, error) {
	summary := &OccupancySummary{}

	page, err := s.fetcher.Text(ctx, s.site.OccupancyURL)
	if err != nil {
		s.logger.Warn("Failed to fetch occupancy index", zap.Error(err))
		return summary, nil
	}
	all, err := parser.ParseOccupancyIndex(strings.NewReader(page), s.site.BaseURL)
	if err != nil {
		s.logger.Warn("Failed to parse occupancy index", zap.Error(err))
		return summary, nil
	}

	reports := parser.SelectCurrentReports(all, s.now(), s.cfg.Lookback, s.cfg.Lookahead, s.cfg.MaxReportsPerBuilding)
	summary.Reports = len(reports)
	if len(reports) == 0 {
		s.logger.Info("No occupancy reports listed")
		return summary, nil
	}

	items := make([]workerpool.WorkItem[fetchedReport], 0, len(reports))
	for _, rep := range reports {
		items = append(items, workerpool.WorkItem[fetchedReport]{
			ID: rep.Filename,
			Execute: func(ctx context.Context) (fetchedReport, error) {
				return fetchedReport{report: rep, result: s.fetcher.Fetch(ctx, rep.URL, rep.Filename, "")}, nil
			},
		})
	}
	results := workerpool.Process(ctx, s.pool, items, nil)

	// Older reports are applied first so a newer report wins where ranges
	// overlap. Once a building had a report applied, its newer unchanged
	// reports are applied again to restore their rows in the overlap.
	fetched := make([]fetchedReport, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			s.logger.Warn("Occupancy fetch aborted", zap.String("filename", r.ID), zap.Error(r.Err))
			summary.Failed++
			continue
		}
		fetched = append(fetched, r.Result)
	}
	sort.SliceStable(fetched, func(i, j int) bool {
		a, b := fetched[i].report, fetched[j].report
		if a.Building != b.Building {
			return a.Building < b.Building
		}
		return a.Start.Before(b.Start)
	})

	var errs []error
	touched := make(map[string]bool)
	for _, f := range fetched {
		building := f.report.Building
		switch f.result.Outcome {
		case fetcher.FetchFailed:
			s.logger.Warn("Failed to fetch occupancy report",
				zap.String("url", f.report.URL),
				zap.Error(f.result.Err))
			summary.Failed++
		case fetcher.Unchanged:
			summary.Unchanged++
			if !touched[building] {
				continue
			}
			n, err := s.apply(ctx, f.report, f.result)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			summary.Reapplied++
			summary.Records += n
		case fetcher.Updated:
			n, err := s.apply(ctx, f.report, f.result)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			touched[building] = true
			summary.Updated++
			summary.Records += n
		}
	}

	s.logger.Info("Occupancy refresh finished",
		zap.Int("reports", summary.Reports),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("reapplied", summary.Reapplied),
		zap.Int("failed", summary.Failed),
		zap.Int("records", summary.Records))

	return summary, errors.Join(errs...)
}

// apply parses a changed report and swaps its rows in, recording the ledger
// hash in the same transaction. A report without a usable table still has
// its hash recorded so it is not refetched until it changes.
func (s *occupancySyncService) apply(ctx context.Context, rep parser.OccupancyReport, res fetcher.Result) (int, error) {
	var records []models.Occupancy
	body, err := fetcher.DecodeHTML(res.Body)
	if err == nil {
		records, err = parser.ParseOccupancyTable(body, rep.Building)
	}
	if err != nil {
		level := s.logger.Error
		if errors.Is(err, apperrors.ErrNoTable) {
			level = s.logger.Warn
		}
		level("Failed to parse occupancy report",
			zap.String("filename", rep.Filename),
			zap.Error(err))
		records = nil
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.occupancyRepo.ReplaceRange(ctx, rep.Building, records); err != nil {
			return err
		}
		return s.fileRepo.Upsert(ctx, rep.Filename, res.Hash, models.FileTypeOccupancy)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store occupancy for %s: %w", rep.Filename, err)
	}

	s.logger.Info("Occupancy updated",
		zap.String("building", rep.Building),
		zap.String("filename", rep.Filename),
		zap.Int("records", len(records)))
	return len(records), nil
}
