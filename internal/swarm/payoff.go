package swarm

import "time"

// BonusCondition is a named condition contributing a fixed bonus to a
// Payoff's score when satisfied. Each contract is fully documented in
// its own row; there is no cross-row calculation.
type BonusCondition struct {
	Name      string
	Satisfied bool
	Bonus     float64
}

// Payoff scores an outcome: a base value scaled by a multiplier, reduced
// linearly for lateness past a deadline, plus any satisfied bonuses.
type Payoff struct {
	Base            float64
	Multiplier      float64
	Deadline        time.Time
	DecayRatePerHour float64
	BonusConditions []BonusCondition
}

// Score computes the payoff value at time now.
func (p Payoff) Score(now time.Time) float64 {
	value := p.Base * p.Multiplier

	if p.DecayRatePerHour > 0 && now.After(p.Deadline) {
		hoursOverdue := now.Sub(p.Deadline).Hours()
		value -= p.DecayRatePerHour * hoursOverdue
	}

	for _, bc := range p.BonusConditions {
		if bc.Satisfied {
			value += bc.Bonus
		}
	}

	if value < 0 {
		value = 0
	}
	return value
}
