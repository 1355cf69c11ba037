package net

// Transport moves block RPCs between the authorities of a committee.
type Transport interface {
	// Listen starts serving incoming RPCs on Consumer.
	Listen()

	// Consumer delivers incoming RPCs. Every RPC must be answered with
	// Respond.
	Consumer() <-chan RPC

	// LocalAddr is the address the transport is bound to.
	LocalAddr() string

	// AdvertiseAddr is the address peers dial, as it appears in the committee.
	AdvertiseAddr() string

	// SubmitBlock pushes blocks to the target.
	SubmitBlock(target string, args *SubmitBlockRequest, resp *SubmitBlockResponse) error

	// FetchBlocks pulls blocks by reference from the target.
	FetchBlocks(target string, args *FetchBlocksRequest, resp *FetchBlocksResponse) error

	// Close stops listening and drops pooled connections. The transport
	// cannot be reused.
	Close() error
}

// RPC is an incoming request. Command is a *SubmitBlockRequest or a
// *FetchBlocksRequest.
type RPC struct {
	Command  interface{}
	RespChan chan<- RPCResponse
}

// RPCResponse is the answer to an RPC. Error, when set, is returned to the
// caller in place of Response.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// Respond answers the RPC. RespChan is buffered, so this does not wait for
// the caller.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{Response: resp, Error: err}
}
