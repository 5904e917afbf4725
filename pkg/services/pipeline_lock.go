package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
)

const (
	pipelineLockKey = "piculi:pipeline:lock"
	pipelineLockTTL = time.Hour
)

// RunLock guarantees at most one pipeline run at a time.
type RunLock interface {
	// TryAcquire returns a release func, or apperrors.ErrPipelineRunning
	// when another run holds the lock.
	TryAcquire(ctx context.Context) (release func(), err error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type pipelineLock struct {
	mu     sync.Mutex
	client *redis.Client
	logger *zap.Logger
}

// NewPipelineLock creates a run lock that is always held in-process and,
// when client is non-nil, also in Redis so separate processes sharing the
// database exclude each other.
func NewPipelineLock(client *redis.Client, logger *zap.Logger) RunLock {
	return &pipelineLock{client: client, logger: logger.Named("pipeline-lock")}
}

var _ RunLock = (*pipelineLock)(nil)

func (l *pipelineLock) TryAcquire(ctx context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, apperrors.ErrPipelineRunning
	}
	if l.client == nil {
		return l.mu.Unlock, nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, pipelineLockKey, token, pipelineLockTTL).Result()
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("failed to acquire pipeline lock: %w", err)
	}
	if !ok {
		l.mu.Unlock()
		return nil, apperrors.ErrPipelineRunning
	}

	return func() {
		// The caller's ctx may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{pipelineLockKey}, token).Err(); err != nil {
			l.logger.Warn("Failed to release pipeline lock", zap.Error(err))
		}
		l.mu.Unlock()
	}, nil
}
