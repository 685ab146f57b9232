package swarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/coordinator/internal/store"
)

func TestTally_MajorityVote(t *testing.T) {
	p := Proposal{
		Options:      []string{"approve", "reject"},
		VotingMethod: MethodMajority,
		QuorumType:   QuorumAbsolute,
		QuorumValue:  2,
	}
	votes := []store.Vote{
		{VoterHandle: "a", VoteValue: "approve", Weight: 1},
		{VoterHandle: "b", VoteValue: "approve", Weight: 1},
		{VoterHandle: "c", VoteValue: "reject", Weight: 1},
	}

	result := Tally(p, votes)
	require.Equal(t, "approve", result.Winner)
	require.True(t, result.QuorumMet)
	require.True(t, result.ThresholdOK)
	require.True(t, result.Passed)
	require.Equal(t, 3.0, result.TotalWeight)
}

func TestTally_RejectsBallotOutsideOptions(t *testing.T) {
	p := Proposal{
		Options:      []string{"approve", "reject"},
		VotingMethod: MethodMajority,
		QuorumType:   QuorumNone,
	}
	votes := []store.Vote{
		{VoterHandle: "a", VoteValue: "approve", Weight: 1},
		{VoterHandle: "b", VoteValue: "abstain", Weight: 1},
	}

	result := Tally(p, votes)
	require.Equal(t, 1.0, result.Tally["approve"])
	require.Equal(t, 1.0, result.TotalWeight, "the abstain ballot must not count toward total weight")
}

func TestTally_UnanimousRequiresFullShare(t *testing.T) {
	p := Proposal{
		Options:      []string{"approve", "reject"},
		VotingMethod: MethodUnanimous,
		QuorumType:   QuorumNone,
	}
	votes := []store.Vote{
		{VoterHandle: "a", VoteValue: "approve", Weight: 1},
		{VoterHandle: "b", VoteValue: "reject", Weight: 1},
	}
	result := Tally(p, votes)
	require.False(t, result.ThresholdOK)
	require.False(t, result.Passed)
}

func TestTally_SupermajorityThreshold(t *testing.T) {
	p := Proposal{
		Options:      []string{"approve", "reject"},
		VotingMethod: MethodSupermajority,
		QuorumType:   QuorumNone,
	}
	votes := []store.Vote{
		{VoteValue: "approve", Weight: 2},
		{VoteValue: "approve", Weight: 2},
		{VoteValue: "reject", Weight: 1},
	}
	result := Tally(p, votes)
	require.True(t, result.ThresholdOK, "4/5 exceeds the 2/3 supermajority bar")
}

func TestTally_RankedBallotBordaCount(t *testing.T) {
	p := Proposal{
		Options:      []string{"a", "b", "c"},
		VotingMethod: MethodRanked,
		QuorumType:   QuorumNone,
	}
	votes := []store.Vote{
		{VoteValue: `["a","b","c"]`, Weight: 1},
		{VoteValue: `["b","a","c"]`, Weight: 1},
	}
	result := Tally(p, votes)
	// a: 3+2=5, b: 2+3=5, c: 1+1=2 -> tie broken by declaration order -> "a"
	require.Equal(t, "a", result.Winner)
}

func TestTally_RankedBallotMalformedJSONIgnored(t *testing.T) {
	p := Proposal{
		Options:      []string{"a", "b"},
		VotingMethod: MethodRanked,
		QuorumType:   QuorumNone,
	}
	votes := []store.Vote{
		{VoteValue: `not-json`, Weight: 1},
	}
	result := Tally(p, votes)
	require.Equal(t, 0.0, result.Tally["a"])
	require.Equal(t, 0.0, result.Tally["b"])
}

func TestTally_ZeroWeightDefaultsToOne(t *testing.T) {
	p := Proposal{
		Options:      []string{"a", "b"},
		VotingMethod: MethodMajority,
		QuorumType:   QuorumNone,
	}
	votes := []store.Vote{{VoteValue: "a", Weight: 0}}
	result := Tally(p, votes)
	require.Equal(t, 1.0, result.Tally["a"])
}

func TestTally_QuorumAbsoluteNotMet(t *testing.T) {
	p := Proposal{
		Options:      []string{"a", "b"},
		VotingMethod: MethodMajority,
		QuorumType:   QuorumAbsolute,
		QuorumValue:  5,
	}
	votes := []store.Vote{{VoteValue: "a", Weight: 1}}
	result := Tally(p, votes)
	require.False(t, result.QuorumMet)
	require.False(t, result.Passed, "threshold may pass but quorum gates the final outcome")
}

func TestPheromoneTrail_DecaysOverTime(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trail := PheromoneTrail{Intensity: 1.0, CreatedAt: created}

	atCreation := trail.EffectiveIntensity(created, 0.1)
	require.InDelta(t, 1.0, atCreation, 1e-9)

	tenHoursLater := created.Add(10 * time.Hour)
	decayed := trail.EffectiveIntensity(tenHoursLater, 0.1)
	require.Less(t, decayed, 1.0)
	require.Greater(t, decayed, 0.0)
}

func TestPheromoneTrail_IsActiveThreshold(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trail := PheromoneTrail{Intensity: 1.0, CreatedAt: created}

	require.True(t, trail.IsActive(created, 0.1, 0.5))
	farFuture := created.Add(1000 * time.Hour)
	require.False(t, trail.IsActive(farFuture, 0.1, 0.5))
}

func TestFilterActive_UnfilteredWhenActiveOnlyFalse(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trails := []PheromoneTrail{
		{Intensity: 1.0, CreatedAt: created},
		{Intensity: 0.01, CreatedAt: created},
	}
	now := created.Add(1000 * time.Hour)

	require.Len(t, FilterActive(trails, now, 0.1, 0.5, false), 2)
	require.Len(t, FilterActive(trails, now, 0.1, 0.5, true), 0)
}

func TestPayoff_ScoreAppliesMultiplierAndBonus(t *testing.T) {
	deadline := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Payoff{
		Base:       100,
		Multiplier: 1.5,
		Deadline:   deadline,
		BonusConditions: []BonusCondition{
			{Name: "early", Satisfied: true, Bonus: 10},
			{Name: "unused", Satisfied: false, Bonus: 1000},
		},
	}
	require.InDelta(t, 160.0, p.Score(deadline), 1e-9)
}

func TestPayoff_ScoreDecaysPastDeadline(t *testing.T) {
	deadline := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Payoff{
		Base:             100,
		Multiplier:       1,
		Deadline:         deadline,
		DecayRatePerHour: 10,
	}
	fiveHoursLate := deadline.Add(5 * time.Hour)
	require.InDelta(t, 50.0, p.Score(fiveHoursLate), 1e-9)
}

func TestPayoff_ScoreNeverNegative(t *testing.T) {
	deadline := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Payoff{
		Base:             10,
		Multiplier:       1,
		Deadline:         deadline,
		DecayRatePerHour: 100,
	}
	wayLate := deadline.Add(100 * time.Hour)
	require.Equal(t, 0.0, p.Score(wayLate))
}
