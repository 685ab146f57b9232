// Package swarm implements the coordinator's pure swarm-intelligence
// calculators: ranked-choice and weighted voting tallies, pheromone-trail
// decay, and deadline-aware payoff scoring. These are self-contained
// math over rows the store already persists; no third-party library
// fits this domain, so they are plain Go over the standard library (see
// DESIGN.md).
package swarm

import (
	"encoding/json"

	"github.com/fleetctl/coordinator/internal/store"
)

// VotingMethod selects how ballots are tallied.
type VotingMethod string

const (
	MethodMajority      VotingMethod = "majority"
	MethodSupermajority VotingMethod = "supermajority"
	MethodUnanimous     VotingMethod = "unanimous"
	MethodRanked        VotingMethod = "ranked"
	MethodWeighted      VotingMethod = "weighted"
)

// QuorumType selects how participation is judged.
type QuorumType string

const (
	QuorumNone       QuorumType = "none"
	QuorumAbsolute   QuorumType = "absolute"
	QuorumPercentage QuorumType = "percentage"
)

// Proposal describes a consensus vote: a fixed option set tallied by
// votingMethod, gated by a quorum rule.
type Proposal struct {
	Options      []string
	VotingMethod VotingMethod
	QuorumType   QuorumType
	QuorumValue  float64
}

// TallyResult is the outcome of tallying a Proposal's votes.
type TallyResult struct {
	Tally       map[string]float64
	TotalWeight float64
	Winner      string
	QuorumMet   bool
	ThresholdOK bool
	Passed      bool
}

// Tally computes the outcome of proposal given votes: non-ranked methods
// reject ballots outside options; ranked ballots are JSON-encoded
// option-name lists scored by Borda count; ties are broken by option
// declaration order.
func Tally(p Proposal, votes []store.Vote) TallyResult {
	tally := make(map[string]float64, len(p.Options))
	for _, opt := range p.Options {
		tally[opt] = 0
	}

	var totalWeight float64
	for _, v := range votes {
		weight := v.Weight
		if weight <= 0 {
			weight = 1
		}
		if p.VotingMethod == MethodRanked {
			applyRankedBallot(tally, v.VoteValue, weight)
		} else {
			if _, ok := tally[v.VoteValue]; !ok {
				continue // reject votes outside the declared option set
			}
			tally[v.VoteValue] += weight
		}
		totalWeight += weight
	}

	winner := argmaxInOrder(p.Options, tally)

	quorumMet := evalQuorum(p.QuorumType, p.QuorumValue, len(votes))
	thresholdOK := evalThreshold(p.VotingMethod, tally, winner, totalWeight)

	return TallyResult{
		Tally:       tally,
		TotalWeight: totalWeight,
		Winner:      winner,
		QuorumMet:   quorumMet,
		ThresholdOK: thresholdOK,
		Passed:      quorumMet && thresholdOK,
	}
}

// applyRankedBallot parses voteValue as a JSON list of option names and
// applies Borda count: for a ranking of length N, the i-th choice
// (0-indexed) receives (N-i)*weight points.
func applyRankedBallot(tally map[string]float64, voteValue string, weight float64) {
	var ranking []string
	if err := json.Unmarshal([]byte(voteValue), &ranking); err != nil {
		return
	}
	n := len(ranking)
	for i, opt := range ranking {
		if _, ok := tally[opt]; !ok {
			continue
		}
		tally[opt] += float64(n-i) * weight
	}
}

// argmaxInOrder returns the option with the highest tally, breaking ties
// by declaration order in options.
func argmaxInOrder(options []string, tally map[string]float64) string {
	var winner string
	var best float64
	first := true
	for _, opt := range options {
		v := tally[opt]
		if first || v > best {
			winner = opt
			best = v
			first = false
		}
	}
	return winner
}

func evalQuorum(qt QuorumType, quorumValue float64, voteCount int) bool {
	switch qt {
	case QuorumAbsolute:
		return float64(voteCount) >= quorumValue
	case QuorumPercentage:
		// In single-coordinator mode there is no fixed roster of expected
		// voters to divide by, so participation is treated as a boolean
		// pass if any votes are present.
		return voteCount > 0
	default:
		return voteCount > 0
	}
}

func evalThreshold(method VotingMethod, tally map[string]float64, winner string, totalWeight float64) bool {
	if totalWeight <= 0 {
		return false
	}
	share := tally[winner] / totalWeight
	switch method {
	case MethodSupermajority:
		return share >= 2.0/3.0
	case MethodUnanimous:
		return share >= 1.0-1e-9
	case MethodMajority, MethodRanked, MethodWeighted:
		return share > 0.5
	default:
		return share > 0.5
	}
}
