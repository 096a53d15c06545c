/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Checks every customer's stored balance against the sum of their
  transactions. A mismatch means something wrote a balance outside a unit
  of work; the auditor reports it and never corrects it.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Audits once immediately on Start, then on every tick
  - Mismatches are logged at Warn with both figures
  - The last report is kept for RunNow callers and tests

USAGE:
  auditor := NewLedgerAuditor(services, logger)
  auditor.Interval = cfg.Audit.Interval
  auditor.Start()
  // ... later
  auditor.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/watercan/ledger-engine/ledger"
)

// AuditReport summarises one audit pass.
type AuditReport struct {
	StartedAt  time.Time
	Checked    int
	Mismatched []ledger.Reconciliation
	Failed     int
}

// LedgerAuditor periodically reconciles every customer's balance.
type LedgerAuditor struct {
	Services *ledger.Services
	Logger   *zap.Logger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.Mutex
	last   *AuditReport
}

func NewLedgerAuditor(services *ledger.Services, logger *zap.Logger) *LedgerAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerAuditor{
		Services: services,
		Logger:   logger,
		Interval: time.Hour,
		Enabled:  true,
	}
}

// Start begins auditing in the background.
func (a *LedgerAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		a.Logger.Info("ledger auditor disabled")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run(a.ticker, a.stop)

	a.Logger.Info("ledger auditor started", zap.Duration("interval", a.Interval))
}

// Stop halts the auditor and waits for an in-flight pass to finish.
func (a *LedgerAuditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker == nil {
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.wg.Wait()
	a.ticker = nil
	a.Logger.Info("ledger auditor stopped")
}

func (a *LedgerAuditor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	a.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			a.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one audit pass synchronously.
func (a *LedgerAuditor) RunNow(ctx context.Context) AuditReport {
	report := AuditReport{StartedAt: time.Now().UTC(), Mismatched: []ledger.Reconciliation{}}

	customers, err := a.Services.Customers.List(ctx, ledger.CustomerFilter{})
	if err != nil {
		a.Logger.Error("ledger audit: listing customers failed", zap.Error(err))
		report.Failed++
		a.record(report)
		return report
	}

	for _, c := range customers {
		if ctx.Err() != nil {
			break
		}
		rec, err := a.Services.Balance.Reconcile(ctx, c.ID)
		if err != nil {
			a.Logger.Error("ledger audit: reconcile failed",
				zap.String("customer_id", string(c.ID)),
				zap.Error(err))
			report.Failed++
			continue
		}
		report.Checked++
		if !rec.Consistent {
			a.Logger.Warn("ledger audit: balance does not match transactions",
				zap.String("customer_id", string(rec.CustomerID)),
				zap.Int64("balance", rec.Balance),
				zap.Int64("ledger_sum", rec.LedgerSum),
				zap.Int("transactions", rec.Transactions))
			report.Mismatched = append(report.Mismatched, *rec)
		}
	}

	a.Logger.Info("ledger audit complete",
		zap.Int("checked", report.Checked),
		zap.Int("mismatched", len(report.Mismatched)),
		zap.Int("failed", report.Failed))
	a.record(report)
	return report
}

// LastReport returns the most recent audit, if any ran.
func (a *LedgerAuditor) LastReport() (AuditReport, bool) {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	if a.last == nil {
		return AuditReport{}, false
	}
	return *a.last, true
}

func (a *LedgerAuditor) record(r AuditReport) {
	a.lastMu.Lock()
	a.last = &r
	a.lastMu.Unlock()
}
