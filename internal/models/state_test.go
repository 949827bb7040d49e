package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaimTransitions(t *testing.T) {
	assert.True(t, CanTransitionClaim(ClaimPending, ClaimInvestigating))
	assert.True(t, CanTransitionClaim(ClaimApproved, ClaimPaid))
	assert.False(t, CanTransitionClaim(ClaimApproved, ClaimRejected))

	for _, s := range []ClaimStatus{ClaimPending, ClaimInvestigating, ClaimApproved, ClaimRejected, ClaimPaid} {
		if s.IsTerminal() {
			for _, to := range []ClaimStatus{ClaimPending, ClaimInvestigating, ClaimApproved, ClaimRejected, ClaimPaid} {
				assert.False(t, CanTransitionClaim(s, to), "%s -> %s", s, to)
			}
		}
	}
	assert.True(t, ClaimPaid.IsTerminal())
	assert.True(t, ClaimRejected.IsTerminal())
	assert.False(t, ClaimApproved.IsTerminal())
}
