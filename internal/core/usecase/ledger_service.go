package usecase

import (
	"context"

	"github.com/atvirokodosprendimai/keybox/internal/core/domain"
	"github.com/atvirokodosprendimai/keybox/internal/core/ports"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// LedgerService serves the read side: key states, keys currently out and
// the audit log.
type LedgerService struct {
	keys   ports.KeyRepository
	ledger ports.LedgerRepository
	log    ports.EventLogRepository
}

func NewLedgerService(keys ports.KeyRepository, ledger ports.LedgerRepository, log ports.EventLogRepository) *LedgerService {
	return &LedgerService{keys: keys, ledger: ledger, log: log}
}

func (s *LedgerService) Keys(ctx context.Context) ([]domain.KeyRecord, error) {
	return s.keys.List(ctx)
}

func (s *LedgerService) Ongoing(ctx context.Context) ([]domain.LedgerEntry, error) {
	return s.ledger.List(ctx)
}

func (s *LedgerService) Log(ctx context.Context, filter domain.LogFilter) ([]domain.LogEntry, error) {
	if filter.KeyNumber < 0 {
		return nil, domain.ErrInvalidFilter
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLogLimit
	}
	if filter.Limit > maxLogLimit {
		filter.Limit = maxLogLimit
	}
	return s.log.List(ctx, filter)
}
