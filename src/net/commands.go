package net

import (
	"github.com/mosaicnetworks/dagbft/src/dag"
)

// SubmitBlockRequest pushes encoded blocks to a peer. Blocks are carried as
// raw bytes; decoding them is the receiver's business.
type SubmitBlockRequest struct {
	FromID uint32
	Blocks [][]byte
}

// SubmitBlockResponse acknowledges a SubmitBlockRequest. It does not say
// whether the blocks were valid.
type SubmitBlockResponse struct {
	FromID  uint32
	Success bool
}

// FetchBlocksRequest asks a peer for blocks we have seen referenced but do not
// have.
type FetchBlocksRequest struct {
	FromID uint32
	Refs   []dag.BlockRef
}

// FetchBlocksResponse returns the subset of the requested blocks known to the
// responder, encoded.
type FetchBlocksResponse struct {
	FromID uint32
	Blocks [][]byte
}
