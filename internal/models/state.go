package models

var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimPending:       {ClaimInvestigating, ClaimApproved, ClaimRejected},
	ClaimInvestigating: {ClaimApproved, ClaimRejected},
	ClaimApproved:      {ClaimPaid},
}

var policyTransitions = map[PolicyStatus][]PolicyStatus{
	PolicyActive: {PolicyExpired, PolicyClaimed, PolicyCancelled},
}

// CanTransitionClaim reports whether a claim may move from one status to another.
// Rejected and paid are terminal.
func CanTransitionClaim(from, to ClaimStatus) bool {
	for _, next := range claimTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionPolicy reports whether a policy status change is allowed.
// Status only moves forward out of active.
func CanTransitionPolicy(from, to PolicyStatus) bool {
	for _, next := range policyTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimPaid || s == ClaimRejected
}

// IsOpen is true while the oracle is still allowed to decide the claim.
func (s ClaimStatus) IsOpen() bool {
	return s == ClaimPending || s == ClaimInvestigating
}
