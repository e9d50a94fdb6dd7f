package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/GoPolymarket/liquigate/internal/chain"
	"github.com/GoPolymarket/liquigate/internal/config"
	"github.com/GoPolymarket/liquigate/internal/ledger"
	"github.com/GoPolymarket/liquigate/internal/model"
	"github.com/GoPolymarket/liquigate/internal/monitor"
	"github.com/GoPolymarket/liquigate/internal/pkg/apperrors"
	"github.com/GoPolymarket/liquigate/internal/pkg/metrics"
)

const recoveryBackoff = 5 * time.Second

// Broadcaster pushes batch lifecycle events to the operator stream.
type Broadcaster interface {
	BroadcastBatch(b model.Batch)
}

// Orchestrator drives the monitor → evaluate → govern → provision →
// attribute pipeline on a fixed interval. Execution is strictly
// single-flight: at most one batch is non-terminal at any time, and the
// guarantee is persisted through the batch state machine in the ledger,
// not an in-memory lock, so it holds across restarts.
type Orchestrator struct {
	store ledger.Store
	gw    chain.Gateway
	mon   *monitor.Monitor
	gov   *Governor
	prov  *Provisioner
	attr  *Attribution
	cfg   *config.Provider
	hub   Broadcaster
	log   *slog.Logger

	// test hook; defaults to time.Now
	now func() time.Time
}

func NewOrchestrator(store ledger.Store, gw chain.Gateway, mon *monitor.Monitor, gov *Governor, prov *Provisioner, attr *Attribution, cfg *config.Provider, hub Broadcaster, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store: store,
		gw:    gw,
		mon:   mon,
		gov:   gov,
		prov:  prov,
		attr:  attr,
		cfg:   cfg,
		hub:   hub,
		log:   log,
		now:   time.Now,
	}
}

// Run blocks until ctx is cancelled or the ledger is found corrupted.
// Any batch left in flight by a previous process is resolved before the
// first proposal.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := o.RecoverPending(ctx); err != nil {
			if apperrors.Fatal(err) {
				return err
			}
			o.log.Warn("recovery attempt failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(recoveryBackoff):
			}
			continue
		}
		break
	}

	interval := o.cfg.Config().Engine.PollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	o.log.Info("orchestrator started", "poll_interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopped")
			return nil
		case <-ticker.C:
			if err := o.Tick(ctx); err != nil {
				if apperrors.Fatal(err) {
					o.log.Error("halting: ledger corruption", "error", err)
					return err
				}
				o.log.Warn("tick ended with unresolved state", "error", err)
			}
		}
	}
}

// Tick runs one full pipeline pass.
func (o *Orchestrator) Tick(ctx context.Context) error {
	metrics.TicksTotal.Inc()

	// A leftover non-terminal batch is resolved before anything new is
	// proposed; two of them is corruption and fatal.
	pending, err := o.store.NonTerminalBatch(ctx)
	if err != nil {
		return err
	}
	if pending != nil {
		return o.resolve(ctx, *pending)
	}

	snap, err := o.mon.Tick(ctx)
	if err != nil {
		// transient, next tick retries
		return nil
	}

	// Safety limits are re-read on every decision, never cached.
	cfg := o.cfg.Safety()
	day := model.UTCDay(o.now().UTC())
	usage, err := o.store.DailyUsage(ctx, day)
	if err != nil {
		return err
	}

	prop := Evaluate(*snap, cfg, usage)
	if !prop.Trigger {
		o.log.Debug("no trigger", "reason", prop.Reason,
			"balance_a", snap.BalanceA, "balance_b", snap.BalanceB)
		return nil
	}

	reserves, err := o.gw.GetReserves(ctx)
	if err != nil {
		metrics.PollErrors.WithLabelValues("reserves").Inc()
		o.log.Warn("reserve read failed, skipping tick", "error", err)
		return nil
	}

	if err := o.gov.Check(ctx, prop.AmountA, prop.AmountB, cfg, usage, reserves, day); err != nil {
		return o.handleRejection(ctx, prop, err)
	}

	plan, err := o.prov.Prepare(ctx, prop.AmountA, prop.AmountB, reserves, cfg.SlippageToleranceBps)
	if err != nil {
		o.log.Warn("plan preparation failed, skipping tick", "error", err)
		return nil
	}

	return o.execute(ctx, prop, plan, cfg)
}

// handleRejection records a governor verdict. Safety rejections leave
// an aborted batch in the audit log; an approval wait leaves nothing,
// so the identical proposal can be re-checked next tick without looking
// like a failed attempt.
func (o *Orchestrator) handleRejection(ctx context.Context, prop Proposal, verdict error) error {
	switch {
	case apperrors.IsType(verdict, apperrors.ErrApprovalPending):
		o.log.Debug("awaiting multisig approval", "error", verdict)
		return nil
	case apperrors.IsType(verdict, apperrors.ErrSafetyReject):
		batch := model.NewBatch(prop.AmountA, prop.AmountB)
		batch.Status = model.BatchAborted
		batch.Reason = verdict.Error()
		if err := o.store.CreateBatch(ctx, batch); err != nil {
			return err
		}
		metrics.BatchesTotal.WithLabelValues(string(model.BatchAborted)).Inc()
		o.broadcast(batch)
		o.log.Info("batch aborted by governor", "batch_id", batch.ID, "reason", batch.Reason)
		return nil
	default:
		o.log.Warn("governor check failed, skipping tick", "error", verdict)
		return nil
	}
}

// execute walks one batch through proposed → approved → submitted →
// confirmed/failed.
func (o *Orchestrator) execute(ctx context.Context, prop Proposal, plan Plan, cfg config.Safety) error {
	batch := model.NewBatch(prop.AmountA, prop.AmountB)
	if err := o.store.CreateBatch(ctx, batch); err != nil {
		return err
	}
	o.broadcast(batch)

	batch.MatchedA = plan.MatchedA
	batch.MatchedB = plan.MatchedB
	batch.ExpectedLP = plan.ExpectedLP
	batch.Status = model.BatchApproved
	if err := o.store.TransitionBatch(ctx, batch, model.BatchProposed); err != nil {
		return err
	}
	o.broadcast(batch)

	// A late emergency stop must prevent submission even after
	// approval, so the flag is read once more right before the
	// irreversible step.
	if o.cfg.Safety().EmergencyStop {
		return o.abort(ctx, batch, "emergency stop set before submission")
	}

	day := batch.Day()
	if err := o.store.ReserveDailyUsage(ctx, day, batch.MatchedA, batch.MatchedB); err != nil {
		return o.abort(ctx, batch, "usage reservation failed: "+err.Error())
	}

	batch.Status = model.BatchSubmitted
	if err := o.store.TransitionBatch(ctx, batch, model.BatchApproved); err != nil {
		return err
	}

	deadline := o.now().Add(o.cfg.Config().Engine.ConfirmationTimeout())
	txRef, err := o.prov.Submit(ctx, plan, deadline)
	if err != nil {
		metrics.SafetyRejects.WithLabelValues("submission").Inc()
		return o.fail(ctx, batch, "submission failed: "+err.Error())
	}
	batch.TxRef = txRef
	if err := o.store.TransitionBatch(ctx, batch, model.BatchSubmitted); err != nil {
		return err
	}
	o.broadcast(batch)

	return o.await(ctx, batch)
}

// await drives a submitted batch to its terminal state.
func (o *Orchestrator) await(ctx context.Context, batch model.Batch) error {
	start := o.now()
	result, err := o.prov.Await(ctx, batch.TxRef, o.cfg.Config().Engine.ConfirmationTimeout())
	if err != nil {
		switch {
		case apperrors.IsType(err, apperrors.ErrConfirmTimeout):
			return o.fail(ctx, batch, "confirmation timeout")
		case apperrors.IsType(err, apperrors.ErrTxReverted):
			return o.fail(ctx, batch, "transaction reverted")
		default:
			// RPC went away mid-wait; outcome unknown. Leave the batch
			// submitted and let recovery resolve it.
			return err
		}
	}
	metrics.ConfirmationSeconds.Observe(o.now().Sub(start).Seconds())
	return o.confirm(ctx, batch, result)
}

func (o *Orchestrator) confirm(ctx context.Context, batch model.Batch, result chain.AddResult) error {
	day := batch.Day()
	if err := o.store.FinalizeDailyUsage(ctx, day, batch.MatchedA, batch.MatchedB); err != nil {
		return err
	}
	now := o.now().UTC()
	batch.Status = model.BatchConfirmed
	batch.ActualLP = result.LPTokens
	batch.ConfirmedAt = &now
	if err := o.store.TransitionBatch(ctx, batch, model.BatchSubmitted); err != nil {
		return err
	}
	metrics.BatchesTotal.WithLabelValues(string(model.BatchConfirmed)).Inc()
	metrics.LiquidityProvisioned.WithLabelValues("a").Add(batch.MatchedA.InexactFloat64())
	metrics.LiquidityProvisioned.WithLabelValues("b").Add(batch.MatchedB.InexactFloat64())
	o.broadcast(batch)
	o.log.Info("batch confirmed",
		"batch_id", batch.ID, "tx_ref", batch.TxRef,
		"matched_a", batch.MatchedA, "matched_b", batch.MatchedB,
		"actual_lp", batch.ActualLP)

	if _, err := o.attr.Run(ctx, batch); err != nil {
		// The batch is confirmed either way; attribution re-runs from
		// the stamped records on the next recovery pass.
		o.log.Error("attribution failed", "batch_id", batch.ID, "error", err)
	}
	return nil
}

// fail moves a submitted batch to failed and rolls back its daily-cap
// reservation so a failed attempt does not consume headroom.
func (o *Orchestrator) fail(ctx context.Context, batch model.Batch, reason string) error {
	if err := o.store.ReleaseDailyUsage(ctx, batch.Day(), batch.MatchedA, batch.MatchedB); err != nil {
		return err
	}
	batch.Status = model.BatchFailed
	batch.Reason = reason
	if err := o.store.TransitionBatch(ctx, batch, model.BatchSubmitted); err != nil {
		return err
	}
	metrics.BatchesTotal.WithLabelValues(string(model.BatchFailed)).Inc()
	o.broadcast(batch)
	o.log.Warn("batch failed", "batch_id", batch.ID, "reason", reason)
	return nil
}

func (o *Orchestrator) abort(ctx context.Context, batch model.Batch, reason string) error {
	from := batch.Status
	batch.Status = model.BatchAborted
	batch.Reason = reason
	if err := o.store.TransitionBatch(ctx, batch, from); err != nil {
		return err
	}
	metrics.BatchesTotal.WithLabelValues(string(model.BatchAborted)).Inc()
	o.broadcast(batch)
	o.log.Info("batch aborted", "batch_id", batch.ID, "reason", reason)
	return nil
}

// RecoverPending resolves any batch a previous process left
// non-terminal. A submitted batch is settled by querying the chain for
// its actual outcome, so single-flight holds across a crash/restart
// boundary; proposed and approved batches never touched the chain and
// are aborted outright.
func (o *Orchestrator) RecoverPending(ctx context.Context) error {
	pending, err := o.store.NonTerminalBatch(ctx)
	if err != nil {
		return err
	}
	if pending == nil {
		return nil
	}
	o.log.Info("recovering in-flight batch", "batch_id", pending.ID, "status", pending.Status)
	return o.resolve(ctx, *pending)
}

func (o *Orchestrator) resolve(ctx context.Context, batch model.Batch) error {
	switch batch.Status {
	case model.BatchProposed:
		return o.abort(ctx, batch, "orphaned on restart")
	case model.BatchApproved:
		// The reservation may or may not have been written before the
		// crash; release clamps at zero so both cases settle clean.
		if err := o.store.ReleaseDailyUsage(ctx, batch.Day(), batch.MatchedA, batch.MatchedB); err != nil {
			return err
		}
		return o.abort(ctx, batch, "orphaned on restart")
	case model.BatchSubmitted:
		if batch.TxRef == "" {
			return o.fail(ctx, batch, "broadcast never recorded")
		}
		outcome, result, err := o.gw.TxOutcome(ctx, batch.TxRef)
		if err != nil {
			return err
		}
		switch outcome {
		case chain.OutcomeConfirmed:
			return o.confirm(ctx, batch, result)
		case chain.OutcomeReverted:
			return o.fail(ctx, batch, "transaction reverted")
		default:
			return o.await(ctx, batch)
		}
	default:
		return apperrors.Newf(apperrors.ErrLedgerCorruption,
			"batch %s in unexpected status %s", batch.ID, batch.Status)
	}
}

func (o *Orchestrator) broadcast(b model.Batch) {
	if o.hub != nil {
		o.hub.BroadcastBatch(b)
	}
}
