package evaluator

import "oracle-service/internal/models"

// Outcome is the aggregated verdict across every active condition of a policy.
type Outcome struct {
	Approved             bool
	PayoutPercentage     int
	Confidence           float64
	RequiresManualReview bool
	Status               models.ClaimStatus
	Reason               string
}

// Aggregate combines condition results into a claim outcome.
//
// Payout is the maximum percentage among met conditions, never a sum. When
// something met, confidence is that of the condition that set the payout.
// When nothing met, confidence is the weakest "not met", since rejecting
// needs every condition to be confidently untriggered. Aborted conditions,
// manual review flags and confidence under floor all land in investigating.
func Aggregate(results []models.ConditionResult, floor float64) Outcome {
	var out Outcome

	var winner *models.ConditionResult
	aborted := false
	minConfidence := 1.0
	evaluated := 0

	for i := range results {
		r := &results[i]
		if r.Error != "" {
			aborted = true
			continue
		}
		if r.RequiresManualReview {
			out.RequiresManualReview = true
			continue
		}
		evaluated++
		if r.Confidence < minConfidence {
			minConfidence = r.Confidence
		}
		if !r.Met {
			continue
		}
		if winner == nil ||
			r.PayoutPercentage > winner.PayoutPercentage ||
			(r.PayoutPercentage == winner.PayoutPercentage && r.Confidence > winner.Confidence) {
			winner = r
		}
	}

	switch {
	case winner != nil:
		out.PayoutPercentage = winner.PayoutPercentage
		out.Confidence = winner.Confidence
	case evaluated > 0:
		out.Confidence = minConfidence
	}

	switch {
	case aborted:
		out.Status = models.ClaimInvestigating
		out.Reason = "a condition could not be evaluated from an authoritative source"
	case out.RequiresManualReview:
		out.Status = models.ClaimInvestigating
		out.Reason = "condition requires manual review"
	case evaluated == 0:
		out.Status = models.ClaimInvestigating
		out.Reason = "no condition produced a verdict"
	case out.Confidence < floor:
		out.Status = models.ClaimInvestigating
		out.Reason = "confidence below floor"
	case winner != nil && winner.PayoutPercentage > 0:
		out.Status = models.ClaimApproved
		out.Approved = true
		out.Reason = "condition met"
	default:
		out.Status = models.ClaimRejected
		out.Reason = "no condition met"
	}

	if !out.Approved {
		out.PayoutPercentage = pctIfMet(winner)
	}
	return out
}

// pctIfMet keeps the would-be payout on non-approved outcomes so reviewers
// can see what the oracle suggested.
func pctIfMet(winner *models.ConditionResult) int {
	if winner == nil {
		return 0
	}
	return winner.PayoutPercentage
}
