package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"oracle-service/internal/event"
	"oracle-service/internal/lock"
	"oracle-service/internal/metrics"
	"oracle-service/internal/models"
	"oracle-service/internal/worker"

	"github.com/google/uuid"
)

type SweepSettings struct {
	Window     time.Duration
	NumWorkers int
	BatchSize  int
	LockTTL    time.Duration
}

type SweepReport struct {
	Scanned   int64 `json:"scanned"`
	Evaluated int64 `json:"evaluated"`
	Approved  int64 `json:"approved"`
	Expired   int64 `json:"expired"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
	Cancelled bool  `json:"cancelled"`
}

// SweepService gives the oracle a last look at policies nearing the end of
// coverage and expires the ones that ran out.
type SweepService struct {
	store        Store
	orchestrator *EvaluationOrchestrator
	locker       lock.Locker
	publisher    event.Publisher
	metrics      *metrics.Metrics
	settings     SweepSettings
	now          func() time.Time
}

func NewSweepService(
	store Store,
	orchestrator *EvaluationOrchestrator,
	locker lock.Locker,
	publisher event.Publisher,
	m *metrics.Metrics,
	settings SweepSettings,
) *SweepService {
	if settings.NumWorkers <= 0 {
		settings.NumWorkers = 4
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = 500
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = time.Minute
	}
	if publisher == nil {
		publisher = event.NoopPublisher{}
	}
	return &SweepService{
		store:        store,
		orchestrator: orchestrator,
		locker:       locker,
		publisher:    publisher,
		metrics:      m,
		settings:     settings,
		now:          time.Now,
	}
}

type sweepCounters struct {
	evaluated, approved, expired, skipped, failed atomic.Int64
}

// SweepExpiringPolicies processes every active policy ending within the
// window on a bounded worker pool. Cancelling ctx stops new policies from
// starting; the ones already in progress run to completion.
func (s *SweepService) SweepExpiringPolicies(ctx context.Context) (*SweepReport, error) {
	now := s.now()
	policies, err := s.store.ListExpiringPolicies(ctx, now.Add(s.settings.Window), s.settings.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring policies: %w", err)
	}

	report := &SweepReport{Scanned: int64(len(policies))}
	if len(policies) == 0 {
		return report, nil
	}

	var counters sweepCounters
	pool := worker.NewWorkingPool("policy-sweep", s.settings.NumWorkers, s.settings.NumWorkers)
	pool.Start(ctx)

	for i := range policies {
		policy := policies[i]
		err := pool.Submit(ctx, func(jobCtx context.Context) error {
			return s.processPolicy(jobCtx, &policy, now, &counters)
		})
		if err != nil {
			report.Cancelled = true
			slog.Warn("policy sweep stopped submitting", "submitted", i, "total", len(policies), "error", err)
			break
		}
	}
	pool.Close()
	pool.Wait()

	if ctx.Err() != nil {
		report.Cancelled = true
	}
	report.Evaluated = counters.evaluated.Load()
	report.Approved = counters.approved.Load()
	report.Expired = counters.expired.Load()
	report.Skipped = counters.skipped.Load()
	report.Failed = counters.failed.Load()

	slog.Info("Policy sweep finished",
		"scanned", report.Scanned,
		"evaluated", report.Evaluated,
		"approved", report.Approved,
		"expired", report.Expired,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"cancelled", report.Cancelled)
	return report, nil
}

func (s *SweepService) processPolicy(ctx context.Context, policy *models.Policy, now time.Time, c *sweepCounters) error {
	result, err := s.orchestrator.EvaluatePolicy(ctx, policy.ID)
	switch {
	case err == nil:
		c.evaluated.Add(1)
		s.metrics.ObserveSweep("evaluated")
		if result.Decision != nil && result.Decision.Approved {
			c.approved.Add(1)
		}
	case errors.Is(err, ErrNoClaimToEvaluate):
	case errors.Is(err, models.ErrLockNotAcquired):
		// Someone else is working on this policy; the next run picks it up.
		c.skipped.Add(1)
		s.metrics.ObserveSweep("skipped")
		return nil
	default:
		c.failed.Add(1)
		s.metrics.ObserveSweep("failed")
		return fmt.Errorf("policy %s: %w", policy.ID, err)
	}

	if policy.EndDate.After(now) {
		return nil
	}

	expired, err := s.expire(ctx, policy.ID)
	if err != nil {
		c.failed.Add(1)
		s.metrics.ObserveSweep("failed")
		return fmt.Errorf("failed to expire policy %s: %w", policy.ID, err)
	}
	if expired {
		c.expired.Add(1)
		s.metrics.ObserveSweep("expired")
	}
	return nil
}

// expire moves an ended policy to expired unless a claim on it still needs
// the policy to be active.
func (s *SweepService) expire(ctx context.Context, policyID uuid.UUID) (bool, error) {
	release, err := s.locker.Acquire(ctx, lock.PolicyKey(policyID), s.settings.LockTTL)
	if err != nil {
		if errors.Is(err, models.ErrLockNotAcquired) {
			return false, nil
		}
		return false, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("failed to release policy lock", "policy_id", policyID, "error", err)
		}
	}()

	policy, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return false, err
	}
	if policy.Status != models.PolicyActive {
		return false, nil
	}

	open, err := s.store.ListOpenClaimsByPolicy(ctx, policyID)
	if err != nil {
		return false, err
	}
	if len(open) > 0 {
		slog.Info("Policy ended with open claim, expiry deferred", "policy_id", policyID, "claim_id", open[0].ID)
		return false, nil
	}
	approved, err := s.store.ListClaims(ctx, models.ClaimFilter{PolicyID: policyID, Status: models.ClaimApproved, Limit: 1})
	if err != nil {
		return false, err
	}
	if len(approved) > 0 {
		slog.Info("Policy ended with unpaid approved claim, expiry deferred", "policy_id", policyID, "claim_id", approved[0].ID)
		return false, nil
	}

	if err := s.store.UpdatePolicyStatus(ctx, policyID, models.PolicyActive, models.PolicyExpired); err != nil {
		return false, err
	}

	slog.Info("Policy expired", "policy_id", policyID, "end_date", policy.EndDate)
	evt := event.ClaimEvent{
		Type:       event.EventPolicyExpired,
		PolicyID:   policyID,
		HolderID:   policy.HolderID,
		Status:     string(models.PolicyExpired),
		Currency:   policy.Currency,
		Reference:  policy.PolicyNumber,
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("failed to publish policy expiry", "policy_id", policyID, "error", err)
	}
	return true, nil
}
