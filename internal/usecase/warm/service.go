package warm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rsywx-api/internal/infra/metrics"
	"rsywx-api/internal/usecase/books"
	"rsywx-api/internal/usecase/misc"
	"rsywx-api/internal/usecase/reading"
)

// Task одна операция прогрева.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Report итог одного прогона.
type Report struct {
	RunID  string
	Warmed []string
	Failed []string
}

// Status success, partial или failed.
func (r Report) Status() string {
	switch {
	case len(r.Failed) == 0:
		return "success"
	case len(r.Warmed) == 0:
		return "failed"
	default:
		return "partial"
	}
}

// Service периодически перезаписывает суточные ключи кэша, чтобы первый
// запрос дня не ходил в базу.
type Service struct {
	tasks []Task
	log   zerolog.Logger
}

// NewService создаёт сервис прогрева.
func NewService(logger zerolog.Logger, tasks ...Task) *Service {
	return &Service{tasks: tasks, log: logger}
}

// DefaultTasks суточные выдачи: статус коллекции, "в этот день", цитата и
// слово дня, сводка чтения, последние покупки.
func DefaultTasks(b *books.Service, r *reading.Service, m *misc.Service) []Task {
	return []Task{
		{Name: books.OpCollectionStatus, Run: func(ctx context.Context) error {
			_, err := b.CollectionStatus(ctx, true)
			return err
		}},
		{Name: books.OpToday, Run: func(ctx context.Context) error {
			_, _, err := b.Today(ctx, 0, 0, true)
			return err
		}},
		{Name: books.OpLatest, Run: func(ctx context.Context) error {
			_, err := b.Latest(ctx, 1, true)
			return err
		}},
		{Name: misc.OpQuote, Run: func(ctx context.Context) error {
			_, err := m.QuoteOfTheDay(ctx, true)
			return err
		}},
		{Name: misc.OpWord, Run: func(ctx context.Context) error {
			_, err := m.WordOfTheDay(ctx, true)
			return err
		}},
		{Name: reading.OpSummary, Run: func(ctx context.Context) error {
			_, err := r.Summary(ctx, true)
			return err
		}},
	}
}

// RunOnce выполняет все задачи; ошибка одной не останавливает остальные.
func (s *Service) RunOnce(ctx context.Context) Report {
	rep := Report{RunID: uuid.NewString()}
	logger := s.log.With().Str("run_id", rep.RunID).Logger()
	start := time.Now()
	for _, task := range s.tasks {
		if err := task.Run(ctx); err != nil {
			logger.Error().Err(err).Str("task", task.Name).Msg("warmer: задача не выполнена")
			rep.Failed = append(rep.Failed, task.Name)
			continue
		}
		rep.Warmed = append(rep.Warmed, task.Name)
	}
	metrics.WarmRuns.WithLabelValues(rep.Status()).Inc()
	logger.Info().
		Int("warmed", len(rep.Warmed)).
		Int("failed", len(rep.Failed)).
		Dur("duration", time.Since(start)).
		Msg("warmer: прогон завершён")
	return rep
}

// Loop прогревает сразу и затем каждые interval до отмены ctx.
func (s *Service) Loop(ctx context.Context, interval time.Duration) {
	s.RunOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
