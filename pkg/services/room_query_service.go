package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
)

// RoomQueryService answers room availability questions from occupancy data.
type RoomQueryService interface {
	// FreeRooms returns rooms not recorded busy at (date, pair). Without a
	// building rooms are reported as "building-room".
	FreeRooms(ctx context.Context, date time.Time, pair int, building string) ([]string, error)

	// Buildings lists buildings, numeric ones first in numeric order.
	Buildings(ctx context.Context) ([]string, error)
}

type roomQueryService struct {
	occupancyRepo repositories.OccupancyRepository
	logger        *zap.Logger
}

// NewRoomQueryService creates a new room query service.
func NewRoomQueryService(occupancyRepo repositories.OccupancyRepository, logger *zap.Logger) RoomQueryService {
	return &roomQueryService{
		occupancyRepo: occupancyRepo,
		logger:        logger.Named("room-query"),
	}
}

var _ RoomQueryService = (*roomQueryService)(nil)

func (s *roomQueryService) FreeRooms(ctx context.Context, date time.Time, pair int, building string) ([]string, error) {
	if !models.ValidPair(pair) {
		return nil, fmt.Errorf("pair %d: %w", pair, apperrors.ErrInvalidPair)
	}

	all, err := s.occupancyRepo.ListRooms(ctx, building)
	if err != nil {
		return nil, err
	}
	occupied, err := s.occupancyRepo.ListOccupiedRooms(ctx, date, pair, building)
	if err != nil {
		return nil, err
	}

	busy := make(map[string]bool, len(occupied))
	for _, r := range occupied {
		busy[r] = true
	}
	free := []string{}
	for _, r := range all {
		if !busy[r] {
			free = append(free, r)
		}
	}
	sort.Strings(free)

	s.logger.Debug("Free rooms",
		zap.Time("date", date),
		zap.Int("pair", pair),
		zap.String("building", building),
		zap.Int("free", len(free)),
		zap.Int("occupied", len(occupied)))
	return free, nil
}

func (s *roomQueryService) Buildings(ctx context.Context) ([]string, error) {
	return s.occupancyRepo.ListBuildings(ctx)
}
