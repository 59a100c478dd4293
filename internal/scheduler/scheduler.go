package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"dca-trade-bot-go/internal/execution"
	"dca-trade-bot-go/internal/models"
	"dca-trade-bot-go/internal/processor"
)

// Scheduler is the periodic driver that iterates all active bots, expands
// each due bot into one task per trading pair, and fans the tasks out to a
// bounded worker pool. A failure in one task never aborts siblings or the
// loop itself; the loop runs until its context is cancelled.
type Scheduler struct {
	db        *gorm.DB
	processor *processor.Processor
	executor  *execution.Executor
	logger    *zap.Logger

	interval time.Duration
	workers  *semaphore.Weighted
}

// NewScheduler creates a multi-bot monitor.
func NewScheduler(db *gorm.DB, proc *processor.Processor, executor *execution.Executor, interval time.Duration, workerLimit int64, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		db:        db,
		processor: proc,
		executor:  executor,
		logger:    logger,
		interval:  interval,
		workers:   semaphore.NewWeighted(workerLimit),
	}
}

// Run starts the scheduling loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Starting scheduler loop", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping scheduler loop...")
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

// runPass executes one scheduling pass: dispatch every due (bot, pair) task,
// wait for them, then poll deferred limit orders.
func (s *Scheduler) runPass(ctx context.Context) {
	var bots []models.Bot
	if err := s.db.Where("enabled = ?", true).Find(&bots).Error; err != nil {
		s.logger.Error("Failed to load active bots", zap.Error(err))
		return
	}

	now := time.Now()
	var wg sync.WaitGroup
	for i := range bots {
		bot := bots[i]
		if !bot.Due(now) {
			continue
		}

		pairs := bot.PairList()
		if len(pairs) == 0 {
			s.logger.Warn("Bot has no trading pairs configured", zap.Uint("bot_id", bot.ID))
			continue
		}

		for _, pair := range pairs {
			if err := s.workers.Acquire(ctx, 1); err != nil {
				return // context cancelled while waiting for a slot
			}
			wg.Add(1)
			go func(bot models.Bot, pair string, pairCount int) {
				defer wg.Done()
				defer s.workers.Release(1)
				s.runTask(ctx, &bot, pair, pairCount)
			}(bot, pair, len(pairs))
		}

		if err := s.db.Model(&models.Bot{}).Where("id = ?", bot.ID).
			Update("last_checked_at", now).Error; err != nil {
			s.logger.Error("Failed to update bot last-check timestamp",
				zap.Uint("bot_id", bot.ID), zap.Error(err))
		}
	}
	wg.Wait()

	s.executor.ReconcilePending(ctx, s.db)
}

// runTask isolates one (bot, pair) task: panics and errors are contained at
// this boundary and surfaced only as logs.
func (s *Scheduler) runTask(ctx context.Context, bot *models.Bot, pair string, pairCount int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Bot task panicked",
				zap.Uint("bot_id", bot.ID),
				zap.String("pair", pair),
				zap.Any("panic", r),
			)
		}
	}()

	if _, err := s.processor.ProcessPair(ctx, bot, pair, pairCount); err != nil {
		s.logger.Error("Bot task failed",
			zap.Uint("bot_id", bot.ID),
			zap.String("pair", pair),
			zap.Error(err),
		)
	}
}
