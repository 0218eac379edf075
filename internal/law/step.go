package law

import (
	"fmt"

	"github.com/roach88/covenant/internal/exact"
)

// Result is the full account of one budget-law evaluation. Receipts
// copy these fields verbatim; the replay verifier recomputes them from
// the same inputs and compares.
type Result struct {
	DebtBefore       exact.Value
	Budget           exact.Value
	Service          exact.Value
	Disturbance      exact.Value
	DebtAfterService exact.Value
	DebtAfter        exact.Value

	// LawSatisfied is the admissibility gate: whether the disturbance
	// satisfied its policy. The recurrence itself always holds by
	// construction; only the disturbance can be out of bounds.
	LawSatisfied bool
}

// Step evaluates the debt recurrence once:
//
//	service     = S(debt, budget)
//	debt_after  = max(0, debt - service) + disturbance
//
// A nil policy admits any disturbance, which is only appropriate in
// tests. The info argument feeds event-typed and model-based policies;
// pass the zero value otherwise.
func Step(debt, budget, disturbance exact.Value, sl ServiceLaw, dp DisturbancePolicy, info StepInfo) (Result, error) {
	if sl == nil {
		return Result{}, fmt.Errorf("budget step: service law must not be nil")
	}

	service, err := sl.Service(debt, budget)
	if err != nil {
		return Result{}, fmt.Errorf("budget step: %w", err)
	}

	afterService := debt.SubSat(service)
	debtAfter := afterService.Add(disturbance)

	satisfied := true
	if dp != nil {
		satisfied, err = dp.Admit(disturbance, info)
		if err != nil {
			return Result{}, fmt.Errorf("budget step: %w", err)
		}
	}

	return Result{
		DebtBefore:       debt,
		Budget:           budget,
		Service:          service,
		Disturbance:      disturbance,
		DebtAfterService: afterService,
		DebtAfter:        debtAfter,
		LawSatisfied:     satisfied,
	}, nil
}
