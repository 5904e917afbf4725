package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/config"
	"github.com/piculi-bot/piculi-engine/pkg/fetcher"
	"github.com/piculi-bot/piculi-engine/pkg/parser"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
)

// DocumentFetcher is the subset of *fetcher.Fetcher the services use.
type DocumentFetcher interface {
	Text(ctx context.Context, url string) (string, error)
	Fetch(ctx context.Context, url, filename, artifactPath string) fetcher.Result
}

var _ DocumentFetcher = (*fetcher.Fetcher)(nil)

// DirectorySyncResult reports one directory sync.
type DirectorySyncResult struct {
	Synced     bool `json:"synced"`
	Discovered int  `json:"discovered"`
	Inserted   int  `json:"inserted"`
}

// DirectorySyncService mirrors the group labels of the schedule listing page
// into tracked_groups.
type DirectorySyncService interface {
	// Sync inserts newly seen groups as untracked. A fetch or parse failure
	// leaves the store untouched and reports Synced=false without an error;
	// only persistence failures are returned.
	Sync(ctx context.Context) (*DirectorySyncResult, error)
}

type directorySyncService struct {
	site      config.SiteConfig
	fetcher   DocumentFetcher
	groupRepo repositories.TrackedGroupRepository
	logger    *zap.Logger
}

// NewDirectorySyncService creates a new directory sync service.
func NewDirectorySyncService(
	site config.SiteConfig,
	fetcher DocumentFetcher,
	groupRepo repositories.TrackedGroupRepository,
	logger *zap.Logger,
) DirectorySyncService {
	return &directorySyncService{
		site:      site,
		fetcher:   fetcher,
		groupRepo: groupRepo,
		logger:    logger.Named("directory-sync"),
	}
}

var _ DirectorySyncService = (*directorySyncService)(nil)

func (s *directorySyncService) Sync(ctx context.Context) (*DirectorySyncResult, error) {
	page, err := s.fetcher.Text(ctx, s.site.ScheduleURL)
	if err != nil {
		s.logger.Warn("Failed to fetch schedule listing", zap.Error(err))
		return &DirectorySyncResult{}, nil
	}

	labels, err := parser.ParseGroupLabels(strings.NewReader(page))
	if err != nil {
		s.logger.Warn("Failed to parse schedule listing", zap.Error(err))
		return &DirectorySyncResult{}, nil
	}

	inserted, err := s.groupRepo.InsertUntracked(ctx, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to store groups: %w", err)
	}

	s.logger.Info("Group directory synced",
		zap.Int("discovered", len(labels)),
		zap.Int("inserted", inserted))

	return &DirectorySyncResult{Synced: true, Discovered: len(labels), Inserted: inserted}, nil
}
