package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"oracle-service/internal/models"
	"oracle-service/internal/transfer"

	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same uniqueness and optimistic
// locking rules as the Postgres one.
type memStore struct {
	mu          sync.Mutex
	policies    map[uuid.UUID]models.Policy
	claims      map[uuid.UUID]models.Claim
	payouts     map[uuid.UUID]models.PayoutRecord // by claim id
	evaluations []models.EvaluationRecord
}

func newMemStore() *memStore {
	return &memStore{
		policies: map[uuid.UUID]models.Policy{},
		claims:   map[uuid.UUID]models.Claim{},
		payouts:  map[uuid.UUID]models.PayoutRecord{},
	}
}

func (m *memStore) CreatePolicy(ctx context.Context, policy *models.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if policy.ID == uuid.Nil {
		policy.ID = uuid.New()
	}
	for i := range policy.Conditions {
		if policy.Conditions[i].ID == uuid.Nil {
			policy.Conditions[i].ID = uuid.New()
		}
		policy.Conditions[i].PolicyID = policy.ID
	}
	policy.Version = 1
	policy.CreatedAt = time.Now()
	policy.UpdatedAt = policy.CreatedAt
	m.policies[policy.ID] = *policy
	return nil
}

func (m *memStore) GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, fmt.Errorf("%w: policy %s", models.ErrNotFound, id)
	}
	return &p, nil
}

func (m *memStore) ListPolicies(ctx context.Context, filter models.PolicyFilter) ([]models.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Policy
	for _, p := range m.policies {
		if filter.HolderID != "" && p.HolderID != filter.HolderID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.PolicyType != "" && p.PolicyType != filter.PolicyType {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) ListExpiringPolicies(ctx context.Context, before time.Time, limit int) ([]models.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Policy
	for _, p := range m.policies {
		if p.Status == models.PolicyActive && !p.EndDate.After(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdatePolicyStatus(ctx context.Context, id uuid.UUID, from, to models.PolicyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePolicyStatusLocked(id, from, to)
}

func (m *memStore) updatePolicyStatusLocked(id uuid.UUID, from, to models.PolicyStatus) error {
	p, ok := m.policies[id]
	if !ok || p.Status != from {
		return models.NewEvaluationError(models.ErrInvalidState, "policy %s is not %s", id, from)
	}
	p.Status = to
	p.Version++
	m.policies[id] = p
	return nil
}

func (m *memStore) CreateClaim(ctx context.Context, claim *models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if claim.ID == uuid.Nil {
		claim.ID = uuid.New()
	}
	if claim.SubmittedAt.IsZero() {
		claim.SubmittedAt = time.Now()
	}
	claim.Version = 1
	m.claims[claim.ID] = *claim
	return nil
}

func (m *memStore) GetClaim(ctx context.Context, id uuid.UUID) (*models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, fmt.Errorf("%w: claim %s", models.ErrNotFound, id)
	}
	return &c, nil
}

func (m *memStore) ListClaims(ctx context.Context, filter models.ClaimFilter) ([]models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Claim
	for _, c := range m.claims {
		if filter.PolicyID != uuid.Nil && c.PolicyID != filter.PolicyID {
			continue
		}
		if filter.HolderID != "" && c.HolderID != filter.HolderID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) ListOpenClaimsByPolicy(ctx context.Context, policyID uuid.UUID) ([]models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Claim
	for _, c := range m.claims {
		if c.PolicyID == policyID && c.Status.IsOpen() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateClaim(ctx context.Context, claim *models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateClaimLocked(claim)
}

func (m *memStore) updateClaimLocked(claim *models.Claim) error {
	stored, ok := m.claims[claim.ID]
	if !ok {
		return fmt.Errorf("%w: claim %s", models.ErrNotFound, claim.ID)
	}
	if stored.Version != claim.Version {
		return models.NewEvaluationError(models.ErrInvalidState, "claim %s was modified concurrently", claim.ID)
	}
	claim.Version++
	m.claims[claim.ID] = *claim
	return nil
}

func (m *memStore) RecordDecision(ctx context.Context, claim *models.Claim, rec *models.EvaluationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateClaimLocked(claim); err != nil {
		return err
	}
	m.evaluations = append(m.evaluations, *rec)
	return nil
}

func (m *memStore) ListEvaluations(ctx context.Context, claimID uuid.UUID) ([]models.EvaluationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EvaluationRecord
	for i := len(m.evaluations) - 1; i >= 0; i-- {
		if m.evaluations[i].ClaimID == claimID {
			out = append(out, m.evaluations[i])
		}
	}
	return out, nil
}

func (m *memStore) SetEvaluationArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.evaluations {
		if m.evaluations[i].ID == id {
			k := key
			m.evaluations[i].ArchiveKey = &k
			return nil
		}
	}
	return fmt.Errorf("%w: evaluation %s", models.ErrNotFound, id)
}

func (m *memStore) CreatePayout(ctx context.Context, payout *models.PayoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payouts[payout.ClaimID]; exists {
		return models.NewDispatchError(models.ErrAlreadyPaid, payout.ClaimID, nil)
	}
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	payout.CreatedAt = time.Now()
	payout.UpdatedAt = payout.CreatedAt
	m.payouts[payout.ClaimID] = *payout
	return nil
}

func (m *memStore) GetPayoutByClaim(ctx context.Context, claimID uuid.UUID) (*models.PayoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[claimID]
	if !ok {
		return nil, fmt.Errorf("%w: payout for claim %s", models.ErrNotFound, claimID)
	}
	return &p, nil
}

func (m *memStore) UpdatePayout(ctx context.Context, payout *models.PayoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payouts[payout.ClaimID]; !ok {
		return fmt.Errorf("%w: payout %s", models.ErrNotFound, payout.ID)
	}
	payout.UpdatedAt = time.Now()
	m.payouts[payout.ClaimID] = *payout
	return nil
}

func (m *memStore) ListDuePayouts(ctx context.Context, now time.Time, maxAttempts, limit int) ([]models.PayoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PayoutRecord
	for _, p := range m.payouts {
		if p.Status != models.PayoutFailed || p.Attempts >= maxAttempts {
			continue
		}
		if p.NextAttemptAt != nil && p.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, p)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListPayoutsByStatus(ctx context.Context, status models.PayoutStatus) ([]models.PayoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PayoutRecord
	for _, p := range m.payouts {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListStuckPayouts(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.PayoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PayoutRecord
	for _, p := range m.payouts {
		stale := p.Status == models.PayoutProcessing && p.UpdatedAt.Before(staleBefore)
		exhausted := p.Status == models.PayoutFailed && p.Attempts >= maxAttempts
		if stale || exhausted {
			out = append(out, p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SettlePayout(ctx context.Context, payout *models.PayoutRecord, claim *models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateClaimLocked(claim); err != nil {
		return err
	}
	m.payouts[payout.ClaimID] = *payout
	_ = m.updatePolicyStatusLocked(claim.PolicyID, models.PolicyActive, models.PolicyClaimed)
	return nil
}

func (m *memStore) payoutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payouts)
}

// fakeTransfer answers transfers with respond, called with the 1-based
// attempt number.
type fakeTransfer struct {
	mu       sync.Mutex
	calls    int
	requests []transfer.Request
	delay    time.Duration
	respond  func(n int) (string, error)
}

func (f *fakeTransfer) Transfer(ctx context.Context, req transfer.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.requests = append(f.requests, req)
	respond, delay := f.respond, f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if respond == nil {
		return fmt.Sprintf("tx-%d", n), nil
	}
	return respond(n)
}

func (f *fakeTransfer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchiver struct {
	mu      sync.Mutex
	keys    []string
	records map[string]models.EvaluationRecord
	err     error
}

func (a *fakeArchiver) ArchiveEvaluation(ctx context.Context, rec *models.EvaluationRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	key := fmt.Sprintf("policies/%s/claims/%s/%s.json", rec.PolicyID, rec.ClaimID, rec.ID)
	a.keys = append(a.keys, key)
	if a.records == nil {
		a.records = map[string]models.EvaluationRecord{}
	}
	a.records[key] = *rec
	return key, nil
}

func (a *fakeArchiver) GetEvaluation(ctx context.Context, key string) (*models.EvaluationRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", models.ErrNotFound, key)
	}
	return &rec, nil
}
