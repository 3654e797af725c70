package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/yourusername/p2p-swap/swap-service/internal/ledger"
	"github.com/yourusername/p2p-swap/swap-service/internal/service"
	"github.com/yourusername/p2p-swap/swap-service/pkg/logger"
)

// Sweep and billing schedules. Timeouts themselves live in the service
// policy, these only control how often the sweeps run.
const (
	expirySchedule    = "*/5 * * * *"
	staleSchedule     = "*/15 * * * *"
	reminderSchedule  = "*/10 * * * *"
	sealSchedule      = "*/5 * * * *"
	invoicingSchedule = "0 2 1 * *" // 02:00 on the 1st, bills the previous month
)

// Scheduler runs the recurring jobs: timeout sweeps, reminder nudges,
// ledger block sealing and monthly invoicing.
type Scheduler struct {
	cron       *cron.Cron
	swaps      *service.SwapService
	settlement *service.SettlementService
	ledger     *ledger.Service
}

// NewScheduler creates the job scheduler
func NewScheduler(swaps *service.SwapService, settlement *service.SettlementService, ledgerSvc *ledger.Service) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.Recover(cronLogger{}))),
		swaps:      swaps,
		settlement: settlement,
		ledger:     ledgerSvc,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() {
	s.register(expirySchedule, "expire pending swaps", func(ctx context.Context) error {
		_, err := s.swaps.ExpirePending(ctx)
		return err
	})
	s.register(staleSchedule, "cancel stale accepted swaps", func(ctx context.Context) error {
		_, err := s.swaps.CancelStaleAccepted(ctx)
		return err
	})
	s.register(reminderSchedule, "send pending reminders", func(ctx context.Context) error {
		_, err := s.swaps.SendPendingReminders(ctx)
		return err
	})
	s.register(sealSchedule, "seal full ledger blocks", func(ctx context.Context) error {
		return s.ledger.SealIfFull(ctx)
	})
	s.register(invoicingSchedule, "generate monthly invoices", func(ctx context.Context) error {
		year, month := service.PreviousMonth(time.Now())
		_, err := s.settlement.GenerateMonthlyInvoices(ctx, year, month)
		return err
	})

	s.cron.Start()
	logger.Info("Scheduler started")
}

// Stop halts scheduling, the returned context is done once running jobs
// finish.
func (s *Scheduler) Stop() context.Context {
	logger.Info("Scheduler stopping")
	return s.cron.Stop()
}

func (s *Scheduler) register(schedule, name string, job func(ctx context.Context) error) {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := job(context.Background()); err != nil {
			logger.Error("Scheduled job failed",
				zap.String("job", name),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		logger.Error("Failed to schedule job",
			zap.String("job", name),
			zap.String("schedule", schedule),
			zap.Error(err),
		)
		return
	}
	logger.Info("Scheduled job",
		zap.String("job", name),
		zap.String("schedule", schedule),
	)
}

// cronLogger adapts the cron logging callbacks to the shared logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Info("Cron: "+msg, kvFields(keysAndValues)...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(kvFields(keysAndValues), zap.Error(err))
	logger.Error("Cron: "+msg, fields...)
}

func kvFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
