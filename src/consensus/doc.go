// Package consensus implements the round pacing and commit rule of the DAG.
//
// StakeAggregator counts stake per distinct authority. ThresholdClock uses it
// to find the highest round with a quorum of blocks, which paces proposals.
// The Committer groups rounds into waves of at least three rounds (leader,
// voting, decision), elects one leader per wave, and decides from the DAG
// alone whether each leader is committed or skipped:
//
//   - a leader is skipped directly when a quorum of voting-round blocks do not
//     reference its slot;
//   - a leader is committed directly when a quorum of decision-round blocks
//     are certificates for it, a certificate being a block whose ancestors
//     include a quorum of votes for the leader;
//   - otherwise the leader is decided indirectly from the next leader that is
//     not skipped, by looking for a certificate in that leader's causal
//     history.
//
// Committed leaders are linearized into CommittedSubDags that carry the
// causal closure of the leader not committed before, sorted by
// (round, author, digest).
package consensus
