package escrow

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor periodically stamps assigned orders whose deadline passed without
// fulfillment with the OVERDUE display status. It never moves funds; the
// escrow balance only changes through the explicit drain transitions, and a
// missed deadline is a business signal, not an automatic refund.
type Processor struct {
	db         *Database
	sweepDelay time.Duration // Time between deadline sweeps
	nowFn      func() time.Time
}

func NewProcessor(db *Database) *Processor {
	return &Processor{
		db:         db,
		sweepDelay: time.Minute,
		nowFn:      time.Now,
	}
}

// SetNowFunc overrides the time source used by the processor, for tests.
func (p *Processor) SetNowFunc(now func() time.Time) {
	if now == nil {
		p.nowFn = time.Now
		return
	}
	p.nowFn = now
}

// Start begins the deadline sweep loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "deadline_processor").Logger()
	logger.Info().Msg("starting deadline processor")

	ticker := time.NewTicker(p.sweepDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down deadline processor")
			return
		case <-ticker.C:
			if err := p.sweepOverdueOrders(); err != nil {
				logger.Error().Err(err).Msg("failed to sweep overdue orders")
			}
		}
	}
}

func (p *Processor) sweepOverdueOrders() error {
	logger := log.With().Str("component", "deadline_processor").Logger()
	now := p.nowFn()

	orders, err := p.db.GetOverdueOrders(now)
	if err != nil {
		return err
	}

	if len(orders) > 0 {
		logger.Info().Int("overdue_count", len(orders)).Msg("stamping overdue orders")
	}

	for _, order := range orders {
		_, err := p.db.Transition(order.OrderID, EventExpired, "system", now, func(o *Order) error {
			o.Status = StatusOverdue
			return nil
		})
		if err != nil {
			logger.Error().
				Err(err).
				Str("order_id", order.OrderID).
				Msg("failed to stamp overdue order")
			continue
		}

		logger.Info().
			Str("order_id", order.OrderID).
			Time("deadline", order.Deadline).
			Msg("order marked overdue")
	}

	return nil
}
