package service

import (
	"context"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
)

// Sweeper moves overdue contracts to Expired and resumes stalled settlements
type Sweeper struct {
	interval time.Duration
	service  *ContractService
	log      interfaces.ILogger
}

func NewSweeper(interval time.Duration, service *ContractService, log interfaces.ILogger) *Sweeper {
	return &Sweeper{
		interval: interval,
		service:  service,
		log:      log,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	return lib.Every(ctx, s.interval, s.log, func(ctx context.Context) error {
		if _, err := s.service.ExpireDue(ctx); err != nil {
			return err
		}
		_, err := s.service.ResumeStalled(ctx)
		return err
	})
}

// SettlementPoller polls the ledger for settlements whose backoff elapsed
type SettlementPoller struct {
	interval time.Duration
	service  *ContractService
	log      interfaces.ILogger
}

func NewSettlementPoller(interval time.Duration, service *ContractService, log interfaces.ILogger) *SettlementPoller {
	return &SettlementPoller{
		interval: interval,
		service:  service,
		log:      log,
	}
}

func (p *SettlementPoller) Run(ctx context.Context) error {
	return lib.Every(ctx, p.interval, p.log, p.service.PollSettlements)
}
