// Package node implements the reactive component of an authority.
//
// Core is the single-writer driver of the consensus instance. It admits
// verified blocks into the local DAG once their ancestors are known, advances
// the threshold clock, proposes one block per round and runs the committer.
// Every block and every commit is persisted before the in-memory state
// changes, so a storage failure can be retried and a restarted authority
// resumes from its store through Bootstrap.
//
// Node wraps a Core into a pipeline of goroutines:
//
// - listen consumes RPCs from the transport and decodes submitted blocks.
// Undecodable blocks are dropped as MalformedBlock.
//
// - validate checks each batch of decoded blocks in parallel, bounded by
// ValidationWorkers. Validation only depends on the committee.
//
// - loop owns the Core. It adds verified blocks, proposes on every tick of the
// ControlTimer, queues submitted transactions and closes the epoch. Missing
// ancestors are pulled from their authors with FetchBlocks.
//
// Committed sub-DAGs are emitted on CommitCh in commit-index order.
//
// States
//
// A node is Running until its epoch is closed (EpochClosed), its Core hits a
// protocol invariant violation (Halted), or it is shut down (Shutdown).
package node
