package holdings

import (
	"HoldingsRecon/internal/serviceiface"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HoldingsService is the lifecycle wrapper around the holdings HTTP surface.
type HoldingsService struct {
	cfg  map[string]interface{}
	pool *pgxpool.Pool
}

func NewHoldingsService(cfg map[string]interface{}, pool *pgxpool.Pool) serviceiface.Service {
	return &HoldingsService{cfg: cfg, pool: pool}
}

func (s *HoldingsService) Name() string {
	return "holdings"
}

func (s *HoldingsService) Start() error {
	go StartHoldingsService(s.pool)
	return nil
}

func (s *HoldingsService) Stop() error {
	return nil
}
