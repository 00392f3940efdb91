package worker

import (
	"context"
	"errors"
	"time"

	"github.com/consently-next/internal/config"
	"github.com/consently-next/internal/logger"
	"github.com/consently-next/internal/queue"

	"github.com/hibiken/asynq"
)

const defaultChallengeCleanupInterval = 30 * time.Minute

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if s.consumer != nil && s.consumer.Container != nil && s.consumer.ChallengeRepo != nil {
		go s.runChallengeCleanupLoop(ctx)
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// runChallengeCleanupLoop 周期清理已过期的验证挑战。
// 已验证但未过保留期的挑战保留，供设备关联查询使用。
func (s *Service) runChallengeCleanupLoop(ctx context.Context) {
	if s == nil || s.consumer == nil || s.consumer.Container == nil || s.consumer.ChallengeRepo == nil {
		return
	}

	consentCfg := s.consumer.Config.Consent
	keepHours := consentCfg.ChallengeKeepHours
	if keepHours <= 0 {
		keepHours = 24
	}
	interval := defaultChallengeCleanupInterval
	if consentCfg.CleanupIntervalMins > 0 {
		interval = time.Duration(consentCfg.CleanupIntervalMins) * time.Minute
	}

	runOnce := func() {
		cutoff := time.Now().Add(-time.Duration(keepHours) * time.Hour)
		deleted, err := s.consumer.ChallengeRepo.DeleteExpiredBefore(cutoff)
		if err != nil {
			logger.Warnw("worker_challenge_cleanup_failed", "error", err)
			return
		}
		if deleted > 0 {
			logger.Infow("worker_challenge_cleanup_done", "deleted", deleted, "cutoff", cutoff)
		}
	}
	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
