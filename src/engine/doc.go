// Package engine assembles a dagbft node from its configuration: the private
// key, the committee, the block store and the transport.
//
// In simulation mode, the engine runs a whole committee in one process, each
// authority with its own store, all connected by in-memory transports. This is
// the quickest way to watch the protocol commit.
package engine
