package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"HoldingsRecon/api/holdings"
	"HoldingsRecon/internal/config"
	"HoldingsRecon/internal/logger"
	"HoldingsRecon/internal/serviceiface"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
)

// CronService runs the nightly summary-cache refresh so dashboard reads never
// pay for a full reconciliation pass.
type CronService struct {
	config map[string]interface{}
	pool   *pgxpool.Pool
	cron   *cron.Cron
}

func NewCronService(cfg map[string]interface{}, pool *pgxpool.Pool) serviceiface.Service {
	return &CronService{config: cfg, pool: pool}
}

func (s *CronService) Name() string {
	return "cron"
}

func (s *CronService) Start() error {
	schedule := config.DefaultSummaryRefreshSchedule
	if s.config != nil {
		if v, ok := s.config["summary_refresh_schedule"].(string); ok && v != "" {
			schedule = v
		}
	}

	loc, err := time.LoadLocation(config.DefaultTimeZone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	s.cron = cron.New(cron.WithLocation(loc))
	if _, err := s.cron.AddFunc(schedule, s.refreshSummaryCache); err != nil {
		return fmt.Errorf("schedule summary refresh: %w", err)
	}
	s.cron.Start()

	if logger.GlobalLogger != nil {
		logger.GlobalLogger.LogAudit("Cron service started, summary cache refresh scheduled " + schedule)
	}
	log.Println("Cron service started, summary cache refresh scheduled", schedule)
	return nil
}

func (s *CronService) refreshSummaryCache() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	n, err := holdings.RefreshSummaryCache(ctx, s.pool)
	if err != nil {
		log.Printf("[ERROR] summary cache refresh failed: %v", err)
		return
	}
	log.Printf("[INFO] summary cache refreshed, %d rows", n)
	if logger.GlobalLogger != nil {
		logger.GlobalLogger.LogAudit(fmt.Sprintf("Summary cache refreshed (%d rows)", n))
	}
}

func (s *CronService) Stop() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	return nil
}
