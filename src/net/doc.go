// Package net implements the transports used by authorities to exchange
// blocks.
//
// A transport carries two RPCs: SubmitBlock, which pushes freshly proposed
// blocks to a peer, and FetchBlocks, which pulls blocks that were referenced
// as ancestors but never received. Blocks always travel as encoded bytes.
//
// There are two implementations:
//
// - Inmem: in-memory transport used by tests and the local simulation
//
// - TCP: communicating over plain TCP, with msgpack framing
package net
