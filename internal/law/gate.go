package law

import (
	"fmt"
	"strings"

	"github.com/roach88/covenant/internal/exact"
)

// Gate approves or rejects a proposed step by measuring how far debt
// actually moved and holding that against a fixed tolerance, alongside
// the disturbance admissibility gate.
type Gate struct {
	Law        ServiceLaw
	Policy     DisturbancePolicy
	EpsilonHat exact.Value
}

// GateDecision records one gate evaluation.
type GateDecision struct {
	Approved        bool
	EpsilonMeasured exact.Value
	EpsilonHat      exact.Value
	Reason          string

	// Result is the budget-law evaluation behind the decision.
	Result Result
}

// Check evaluates the gate for a proposed step. The measured epsilon is
// |debt_after - debt_before|; approval requires it within EpsilonHat
// and the disturbance within its policy.
func (g *Gate) Check(debtBefore, budget, disturbance, debtAfter exact.Value, info StepInfo) (GateDecision, error) {
	result, err := Step(debtBefore, budget, disturbance, g.Law, g.Policy, info)
	if err != nil {
		return GateDecision{}, fmt.Errorf("measured gate: %w", err)
	}

	epsilon := debtAfter.AbsDiff(debtBefore)
	withinBound := epsilon.Cmp(g.EpsilonHat) <= 0

	var reasons []string
	if !withinBound {
		reasons = append(reasons, fmt.Sprintf("epsilon_measured(%s) > epsilon_hat(%s)", epsilon, g.EpsilonHat))
	}
	if !result.LawSatisfied {
		reasons = append(reasons, "budget_law_violated")
	}

	reason := "APPROVED"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return GateDecision{
		Approved:        withinBound && result.LawSatisfied,
		EpsilonMeasured: epsilon,
		EpsilonHat:      g.EpsilonHat,
		Reason:          reason,
		Result:          result,
	}, nil
}
