package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oracle-service/internal/event"
	"oracle-service/internal/lock"
	"oracle-service/internal/metrics"
	"oracle-service/internal/models"
	"oracle-service/internal/transfer"

	"github.com/google/uuid"
)

const maxRetryBackoff = 6 * time.Hour

type PayoutSettings struct {
	LockTTL          time.Duration
	MaxAttempts      int
	RetryBaseBackoff time.Duration
	RetryBatchSize   int
}

// PayoutDispatcher pays approved claims at most once.
type PayoutDispatcher struct {
	store     Store
	locker    lock.Locker
	transfer  Transferer
	publisher event.Publisher
	metrics   *metrics.Metrics
	settings  PayoutSettings
	now       func() time.Time
}

func NewPayoutDispatcher(
	store Store,
	locker lock.Locker,
	transferer Transferer,
	publisher event.Publisher,
	m *metrics.Metrics,
	settings PayoutSettings,
) *PayoutDispatcher {
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 5
	}
	if settings.RetryBatchSize <= 0 {
		settings.RetryBatchSize = 50
	}
	if publisher == nil {
		publisher = event.NoopPublisher{}
	}
	return &PayoutDispatcher{
		store:     store,
		locker:    locker,
		transfer:  transferer,
		publisher: publisher,
		metrics:   m,
		settings:  settings,
		now:       time.Now,
	}
}

// DispatchPayout pays an approved claim. Callers that lose the claim lock,
// or find the claim paid or a payout already started, get ErrAlreadyPaid.
func (d *PayoutDispatcher) DispatchPayout(ctx context.Context, claimID uuid.UUID) (*models.PayoutRecord, error) {
	release, err := d.locker.Acquire(ctx, lock.ClaimKey(claimID), d.settings.LockTTL)
	if err != nil {
		if errors.Is(err, models.ErrLockNotAcquired) {
			d.metrics.ObserveLockContention("claim")
			return nil, models.NewDispatchError(models.ErrAlreadyPaid, claimID, err)
		}
		return nil, err
	}
	defer d.releaseLock(release, claimID)

	claim, err := d.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	switch claim.Status {
	case models.ClaimPaid:
		return nil, models.NewDispatchError(models.ErrAlreadyPaid, claimID, nil)
	case models.ClaimApproved:
	default:
		return nil, models.NewDispatchError(models.ErrInvalidState, claimID,
			fmt.Errorf("claim is %s, only approved claims are paid", claim.Status))
	}

	existing, err := d.store.GetPayoutByClaim(ctx, claimID)
	if err == nil {
		return existing, models.NewDispatchError(models.ErrAlreadyPaid, claimID,
			fmt.Errorf("payout %s is %s", existing.ID, existing.Status))
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	policy, err := d.store.GetPolicy(ctx, claim.PolicyID)
	if err != nil {
		return nil, err
	}

	amount := claim.ApprovedAmount.Decimal
	if !claim.ApprovedAmount.Valid {
		pct := 0
		if claim.Decision != nil {
			pct = claim.Decision.PayoutPercentage
		}
		amount = policy.PayoutAmount(pct)
	}
	if !amount.IsPositive() {
		return nil, models.NewDispatchError(models.ErrInvalidState, claimID, fmt.Errorf("approved amount is %s", amount))
	}

	payout := &models.PayoutRecord{
		ClaimID:   claim.ID,
		PolicyID:  policy.ID,
		HolderID:  claim.HolderID,
		ToAddress: policy.PayoutAddress,
		Amount:    amount,
		Currency:  policy.Currency,
		Status:    models.PayoutProcessing,
	}
	if err := d.store.CreatePayout(ctx, payout); err != nil {
		return nil, err
	}

	slog.Info("Dispatching payout",
		"claim_id", claim.ID, "payout_id", payout.ID, "amount", amount.String(), "currency", payout.Currency)

	// Once the row exists the transfer and its bookkeeping must not be cut
	// short by the caller going away.
	return d.attempt(context.WithoutCancel(ctx), claim, payout)
}

func (d *PayoutDispatcher) attempt(ctx context.Context, claim *models.Claim, payout *models.PayoutRecord) (*models.PayoutRecord, error) {
	payout.Attempts++

	ref, err := d.transfer.Transfer(ctx, transfer.Request{
		ToAddress:      payout.ToAddress,
		Amount:         payout.Amount,
		Currency:       payout.Currency,
		IdempotencyKey: payout.ID.String(),
		Reference:      claim.ClaimNumber,
	})
	if err == nil {
		return payout, d.settle(ctx, claim, payout, ref)
	}

	lastErr := err.Error()
	payout.LastError = &lastErr

	if errors.Is(err, models.ErrTransferAmbiguous) {
		payout.Status = models.PayoutReconcileRequired
		payout.NextAttemptAt = nil
		if updErr := d.store.UpdatePayout(ctx, payout); updErr != nil {
			slog.Error("failed to mark payout for reconciliation", "payout_id", payout.ID, "error", updErr)
		}
		d.metrics.ObservePayout("ambiguous")
		slog.Error("Payout outcome unknown, manual reconciliation required",
			"claim_id", claim.ID, "payout_id", payout.ID, "error", err)
		d.publish(ctx, event.EventReconcileRequired, claim, payout, lastErr)
		return payout, models.NewDispatchError(models.ErrTransferAmbiguous, claim.ID, err)
	}

	if payout.Attempts >= d.settings.MaxAttempts {
		reason := fmt.Sprintf("transfer failed %d times: %s", payout.Attempts, lastErr)
		d.escalate(ctx, claim, payout, reason)
		return payout, models.NewDispatchError(models.ErrTransferFailed, claim.ID, err)
	}

	payout.Status = models.PayoutFailed
	next := d.now().Add(d.backoff(payout.Attempts))
	payout.NextAttemptAt = &next
	if updErr := d.store.UpdatePayout(ctx, payout); updErr != nil {
		slog.Error("failed to record payout failure", "payout_id", payout.ID, "error", updErr)
	}
	d.metrics.ObservePayout("failed")
	slog.Warn("Payout transfer failed, claim stays approved",
		"claim_id", claim.ID, "payout_id", payout.ID, "attempts", payout.Attempts,
		"next_attempt_at", next, "error", err)
	d.publish(ctx, event.EventPayoutFailed, claim, payout, lastErr)
	return payout, models.NewDispatchError(models.ErrTransferFailed, claim.ID, err)
}

func (d *PayoutDispatcher) settle(ctx context.Context, claim *models.Claim, payout *models.PayoutRecord, ref string) error {
	now := d.now()
	payout.Status = models.PayoutCompleted
	payout.TransactionRef = &ref
	payout.CompletedAt = &now
	payout.NextAttemptAt = nil
	payout.LastError = nil

	if !models.CanTransitionClaim(claim.Status, models.ClaimPaid) {
		return models.NewDispatchError(models.ErrInvalidState, claim.ID, fmt.Errorf("claim is %s", claim.Status))
	}
	claim.Status = models.ClaimPaid
	claim.ProcessedAt = &now

	if err := d.store.SettlePayout(ctx, payout, claim); err != nil {
		// Money moved but the books did not; only a human can square this.
		payout.Status = models.PayoutReconcileRequired
		msg := fmt.Sprintf("transfer %s succeeded but settlement failed: %v", ref, err)
		payout.LastError = &msg
		if updErr := d.store.UpdatePayout(ctx, payout); updErr != nil {
			slog.Error("failed to flag unsettled payout", "payout_id", payout.ID, "error", updErr)
		}
		claim.Status = models.ClaimApproved
		d.metrics.ObservePayout("unsettled")
		slog.Error("Payout transferred but not settled", "claim_id", claim.ID, "payout_id", payout.ID, "ref", ref, "error", err)
		d.publish(ctx, event.EventReconcileRequired, claim, payout, msg)
		return models.NewDispatchError(models.ErrTransferAmbiguous, claim.ID, err)
	}

	d.metrics.ObservePayout("completed")
	d.metrics.AddPayoutAmount(payout.Currency, payout.Amount.InexactFloat64())
	slog.Info("Payout completed", "claim_id", claim.ID, "payout_id", payout.ID, "ref", ref)
	d.publish(ctx, event.EventPayoutCompleted, claim, payout, "")
	return nil
}

// RetryFailedPayouts re-attempts failed payouts whose backoff elapsed. It
// returns how many were paid. Payouts that can no longer be retried are moved
// to the reconciliation queue first.
func (d *PayoutDispatcher) RetryFailedPayouts(ctx context.Context) (int, error) {
	if _, err := d.EscalateStuckPayouts(ctx); err != nil {
		slog.Error("failed to escalate stuck payouts", "error", err)
	}

	due, err := d.store.ListDuePayouts(ctx, d.now(), d.settings.MaxAttempts, d.settings.RetryBatchSize)
	if err != nil {
		return 0, err
	}

	paid := 0
	for _, candidate := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := d.retryOne(ctx, candidate.ClaimID)
		if err != nil {
			slog.Warn("payout retry did not complete", "claim_id", candidate.ClaimID, "error", err)
		}
		if ok {
			paid++
		}
	}

	if len(due) > 0 {
		slog.Info("Payout retry run finished", "due", len(due), "paid", paid)
	}
	return paid, nil
}

// EscalateStuckPayouts hands payouts with no automatic way forward to manual
// reconciliation: processing rows untouched for longer than the claim lock
// lives (the dispatching process died or lost its bookkeeping) and failed rows
// out of attempts.
func (d *PayoutDispatcher) EscalateStuckPayouts(ctx context.Context) (int, error) {
	staleBefore := d.now().Add(-d.staleAfter())
	stuck, err := d.store.ListStuckPayouts(ctx, staleBefore, d.settings.MaxAttempts, d.settings.RetryBatchSize)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, candidate := range stuck {
		if ctx.Err() != nil {
			break
		}
		ok, err := d.escalateOne(ctx, candidate.ClaimID, staleBefore)
		if err != nil {
			slog.Warn("could not escalate stuck payout", "claim_id", candidate.ClaimID, "error", err)
		}
		if ok {
			escalated++
		}
	}
	return escalated, nil
}

func (d *PayoutDispatcher) escalateOne(ctx context.Context, claimID uuid.UUID, staleBefore time.Time) (bool, error) {
	// A live dispatch holds this lock for the whole transfer.
	release, err := d.locker.Acquire(ctx, lock.ClaimKey(claimID), d.settings.LockTTL)
	if err != nil {
		return false, err
	}
	defer d.releaseLock(release, claimID)

	payout, err := d.store.GetPayoutByClaim(ctx, claimID)
	if err != nil {
		return false, err
	}

	var reason string
	switch {
	case payout.Status == models.PayoutProcessing && payout.UpdatedAt.Before(staleBefore):
		reason = fmt.Sprintf("payout stuck in processing since %s, transfer outcome unknown",
			payout.UpdatedAt.UTC().Format(time.RFC3339))
	case payout.Status == models.PayoutFailed && payout.Attempts >= d.settings.MaxAttempts:
		reason = fmt.Sprintf("payout retries exhausted after %d attempts", payout.Attempts)
		if payout.LastError != nil {
			reason += ": " + *payout.LastError
		}
	default:
		return false, nil
	}

	claim, err := d.store.GetClaim(ctx, claimID)
	if err != nil {
		return false, err
	}
	d.escalate(ctx, claim, payout, reason)
	return true, nil
}

// escalate parks the payout in reconcile_required and tells operators.
func (d *PayoutDispatcher) escalate(ctx context.Context, claim *models.Claim, payout *models.PayoutRecord, reason string) {
	payout.Status = models.PayoutReconcileRequired
	payout.NextAttemptAt = nil
	payout.LastError = &reason
	if err := d.store.UpdatePayout(ctx, payout); err != nil {
		slog.Error("failed to mark payout for reconciliation", "payout_id", payout.ID, "error", err)
	}
	d.metrics.ObservePayout("escalated")
	slog.Error("Payout needs manual reconciliation", "claim_id", claim.ID, "payout_id", payout.ID, "reason", reason)
	d.publish(ctx, event.EventReconcileRequired, claim, payout, reason)
}

func (d *PayoutDispatcher) staleAfter() time.Duration {
	if d.settings.LockTTL > 0 {
		return d.settings.LockTTL
	}
	return 2 * time.Minute
}

func (d *PayoutDispatcher) retryOne(ctx context.Context, claimID uuid.UUID) (bool, error) {
	release, err := d.locker.Acquire(ctx, lock.ClaimKey(claimID), d.settings.LockTTL)
	if err != nil {
		if errors.Is(err, models.ErrLockNotAcquired) {
			d.metrics.ObserveLockContention("claim")
		}
		return false, err
	}
	defer d.releaseLock(release, claimID)

	payout, err := d.store.GetPayoutByClaim(ctx, claimID)
	if err != nil {
		return false, err
	}
	if payout.Status != models.PayoutFailed {
		return false, nil
	}
	claim, err := d.store.GetClaim(ctx, claimID)
	if err != nil {
		return false, err
	}
	if claim.Status != models.ClaimApproved {
		return false, fmt.Errorf("claim %s is %s, skipping payout retry", claimID, claim.Status)
	}

	payout.Status = models.PayoutProcessing
	if err := d.store.UpdatePayout(ctx, payout); err != nil {
		return false, err
	}

	_, err = d.attempt(context.WithoutCancel(ctx), claim, payout)
	return err == nil, err
}

// ResolveReconciliation settles a payout whose transfer outcome was unknown.
// A transaction reference completes it; a failure puts it back in the retry
// queue.
func (d *PayoutDispatcher) ResolveReconciliation(ctx context.Context, claimID uuid.UUID, req models.ReconcilePayoutRequest, actor string) (*models.PayoutRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	release, err := lock.AcquireWait(ctx, d.locker, lock.ClaimKey(claimID), d.settings.LockTTL, 50*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defer d.releaseLock(release, claimID)

	payout, err := d.store.GetPayoutByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if payout.Status != models.PayoutReconcileRequired {
		return nil, models.NewDispatchError(models.ErrInvalidState, claimID,
			fmt.Errorf("payout is %s, not awaiting reconciliation", payout.Status))
	}
	claim, err := d.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	slog.Info("Resolving payout reconciliation",
		"claim_id", claimID, "payout_id", payout.ID, "actor", actor, "failed", req.Failed)

	if !req.Failed {
		if err := d.settle(ctx, claim, payout, req.TransactionRef); err != nil {
			return payout, err
		}
		return payout, nil
	}

	now := d.now()
	note := fmt.Sprintf("reconciled by %s as not transferred", actor)
	if req.Notes != "" {
		note += ": " + req.Notes
	}
	payout.Status = models.PayoutFailed
	payout.LastError = &note
	payout.NextAttemptAt = &now
	if payout.Attempts >= d.settings.MaxAttempts {
		// one more automatic attempt; failing it escalates again
		payout.Attempts = d.settings.MaxAttempts - 1
	}
	if err := d.store.UpdatePayout(ctx, payout); err != nil {
		return nil, err
	}
	return payout, nil
}

func (d *PayoutDispatcher) ListReconciliationQueue(ctx context.Context) ([]models.PayoutRecord, error) {
	return d.store.ListPayoutsByStatus(ctx, models.PayoutReconcileRequired)
}

// backoff doubles per attempt from the base, capped.
func (d *PayoutDispatcher) backoff(attempts int) time.Duration {
	wait := d.settings.RetryBaseBackoff
	if wait <= 0 {
		wait = time.Minute
	}
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return wait
}

func (d *PayoutDispatcher) publish(ctx context.Context, t event.EventType, claim *models.Claim, payout *models.PayoutRecord, reason string) {
	evt := event.ClaimEvent{
		Type:       t,
		ClaimID:    claim.ID,
		PolicyID:   claim.PolicyID,
		HolderID:   claim.HolderID,
		Status:     string(payout.Status),
		Amount:     payout.Amount,
		Currency:   payout.Currency,
		Reason:     reason,
		OccurredAt: d.now(),
	}
	if payout.TransactionRef != nil {
		evt.Reference = *payout.TransactionRef
	}
	if err := d.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("failed to publish payout event", "type", t, "claim_id", claim.ID, "error", err)
	}
}

func (d *PayoutDispatcher) releaseLock(release lock.Release, claimID uuid.UUID) {
	if err := release(context.Background()); err != nil {
		slog.Warn("failed to release claim lock", "claim_id", claimID, "error", err)
	}
}
