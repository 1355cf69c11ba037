// Package dag defines the blocks exchanged by authorities and the stores that
// hold them.
//
// A Block is identified by a BlockRef, the triple (author, round, digest).
// Blocks reference blocks of earlier rounds through their ancestors, forming a
// directed acyclic graph partitioned into rounds. Round 0 holds one unsigned
// genesis block per authority.
//
// Blocks are immutable once created. Their digest is the SHA256 of their
// canonical msgpack encoding, signature included, so two authorities
// computing the digest of the same block always agree.
//
// The Store interface is the keyed lookup contract used by the consensus core.
// InmemStore keeps everything in memory. BadgerStore persists blocks and
// commits in a Badger key-value database with keys ordered by
// (round, author, digest).
package dag
