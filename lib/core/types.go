package core

import (
	"cmp"
	"fmt"
)

// --------------------------------------------------------------------------
// Algorithm identity
// --------------------------------------------------------------------------

// AlgoInfo names an algorithm implementation a client wants to run
type AlgoInfo struct {
	AlgorithmID string `json:"algorithm_id"`
	Version     int64  `json:"version"`
}

// Key returns the registry key of the algorithm
func (a AlgoInfo) Key() EngineKey {
	return EngineKey{AlgorithmID: a.AlgorithmID, Version: a.Version}
}

// EngineKey identifies a loaded plugin. At most one engine exists per key.
type EngineKey struct {
	AlgorithmID string
	Version     int64
}

// Compare orders keys lexicographically by (AlgorithmID, Version).
// It returns -1, 0 or +1.
func (k EngineKey) Compare(other EngineKey) int {
	if c := cmp.Compare(k.AlgorithmID, other.AlgorithmID); c != 0 {
		return c
	}
	return cmp.Compare(k.Version, other.Version)
}

// Less reports whether k sorts before other
func (k EngineKey) Less(other EngineKey) bool {
	return k.Compare(other) < 0
}

func (k EngineKey) String() string {
	return fmt.Sprintf("%s@v%d", k.AlgorithmID, k.Version)
}

// --------------------------------------------------------------------------
// Request / Response
// --------------------------------------------------------------------------

// Request is a single inference request.
type Request struct {
	// RequestID correlates a response with its request. For asynchronous
	// requests it is overwritten with the sequence id of the waiting future.
	RequestID uint64 `json:"request_id"`
	// OperationID is an opaque, plugin specific operation selector
	OperationID int32 `json:"operation_id"`
	// TransactionID binds the request to the engine the client started
	TransactionID uint64 `json:"transaction_id"`
	AlgorithmType int32  `json:"algorithm_type,omitempty"`
	ClientUID     string `json:"client_uid,omitempty"`
	Payload       []byte `json:"payload,omitempty"`
}

// Response is the result of a request. Ownership passes to exactly one consumer.
type Response struct {
	RequestID     uint64 `json:"request_id"`
	TransactionID uint64 `json:"transaction_id"`
	RetCode       Code   `json:"ret_code"`
	RetDesc       string `json:"ret_desc,omitempty"`
	Result        []byte `json:"result,omitempty"`
}

// NewResponse creates a successful response for the given request
func NewResponse(req *Request, result []byte) *Response {
	return &Response{
		RequestID:     req.RequestID,
		TransactionID: req.TransactionID,
		RetCode:       CodeOK,
		Result:        result,
	}
}

// NewErrorResponse creates a failed response for the given request.
// The error is mapped onto RetCode/RetDesc.
func NewErrorResponse(req *Request, err error) *Response {
	resp := &Response{
		RequestID:     req.RequestID,
		TransactionID: req.TransactionID,
		RetCode:       CodeOf(err),
	}
	if err != nil {
		resp.RetDesc = err.Error()
	}
	return resp
}

// Err returns the error carried by the response, nil if RetCode is CodeOK
func (r *Response) Err() error {
	if r == nil || r.RetCode == CodeOK {
		return nil
	}
	return &Error{Code: r.RetCode, Message: r.RetDesc}
}
