package settlement

import (
	"context"
	"time"

	"referral-system/monitoring"

	"go.uber.org/zap"
)

// SweepStats – итоги одного пакетного обхода
type SweepStats struct {
	Eligible  int
	Completed int
	Skipped   int
	Failed    int
}

// RunSweep обходит созревшие рефералы и прогоняет каждый через протокол
// выплаты. Записи независимы: сбой одной логируется и не прерывает обход
func (e *Engine) RunSweep(ctx context.Context) SweepStats {
	var stats SweepStats

	ids, err := e.store.EligibleReferrals(ctx, time.Now())
	if err != nil {
		e.log.Error("не удалось выбрать зрелые рефералы", zap.Error(err))
		return stats
	}
	stats.Eligible = len(ids)

	for _, id := range ids {
		processed, err := e.ProcessReferral(ctx, id)
		switch {
		case err != nil:
			stats.Failed++
			monitoring.SweepReferralsTotal.WithLabelValues("failed").Inc()
			e.log.Error("реферал не обработан", zap.String("referral", id), zap.Error(err))
		case !processed:
			stats.Skipped++
			monitoring.SweepReferralsTotal.WithLabelValues("skipped").Inc()
		default:
			stats.Completed++
			monitoring.SweepReferralsTotal.WithLabelValues("completed").Inc()
		}
	}

	e.log.Info("пакетный обход завершён",
		zap.Int("eligible", stats.Eligible),
		zap.Int("completed", stats.Completed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return stats
}

// StartSweeper запускает периодический обход в фоне до отмены контекста
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		e.log.Info("планировщик выплат запущен", zap.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				e.log.Info("планировщик выплат остановлен")
				return
			case <-ticker.C:
				e.RunSweep(ctx)
			}
		}
	}()
}
