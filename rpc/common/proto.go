package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/aibroker/lib/core"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for requests, responses and
// server pushed asynchronous replies. Which fields are used depends on the
// type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Addressing
	TransactionID uint64 `json:"transaction_id,omitempty"` // Used for: all but Stats
	RequestID     uint64 `json:"request_id,omitempty"`     // Used for: Sync/AsyncExecute, AsyncReply

	// Engine selection
	AlgorithmID   string `json:"algorithm_id,omitempty"`   // Used for: StartEngine
	Version       int64  `json:"version,omitempty"`        // Used for: StartEngine
	AlgorithmType int32  `json:"algorithm_type,omitempty"` // Used for: Sync/AsyncExecute
	ClientUID     string `json:"client_uid,omitempty"`     // Used for: StartEngine, Sync/AsyncExecute

	// Payload
	OperationID int32  `json:"operation_id,omitempty"` // Used for: Sync/AsyncExecute
	OptionType  int32  `json:"option_type,omitempty"`  // Used for: Set/GetOption
	Value       []byte `json:"value,omitempty"`        // Input of a request, output of a response

	// Response only fields
	RetCode core.Code `json:"ret_code,omitempty"` // CodeOK if no error
	Err     string    `json:"err,omitempty"`      // Empty if no error, otherwise contains the error message
}

// Error returns the error carried by the message as *core.Error, nil if none
func (m *Message) Error() error {
	if m.Err == "" && m.RetCode == core.CodeOK {
		return nil
	}
	code := m.RetCode
	if code == core.CodeOK {
		code = core.CodeOperationFailed
	}
	return &core.Error{Code: code, Message: m.Err}
}

// Request converts an execute message into the request handed to the dispatcher
func (m *Message) Request() *core.Request {
	return &core.Request{
		RequestID:     m.RequestID,
		OperationID:   m.OperationID,
		TransactionID: m.TransactionID,
		AlgorithmType: m.AlgorithmType,
		ClientUID:     m.ClientUID,
		Payload:       m.Value,
	}
}

// Response converts an execute response or an asynchronous reply back into a response
func (m *Message) Response() *core.Response {
	return &core.Response{
		RequestID:     m.RequestID,
		TransactionID: m.TransactionID,
		RetCode:       m.RetCode,
		RetDesc:       m.Err,
		Result:        m.Value,
	}
}

// AlgoInfo returns the engine a StartEngine message asks for
func (m *Message) AlgoInfo() core.AlgoInfo {
	return core.AlgoInfo{AlgorithmID: m.AlgorithmID, Version: m.Version}
}

// setErr maps err onto RetCode and Err
func (m *Message) setErr(err error) *Message {
	if err != nil {
		m.RetCode = core.CodeOf(err)
		m.Err = err.Error()
	}
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewStartEngineRequest creates a new StartEngine request
func NewStartEngineRequest(txID uint64, algo core.AlgoInfo, clientUID string, input []byte) *Message {
	return &Message{
		MsgType:       MsgTStartEngine,
		TransactionID: txID,
		AlgorithmID:   algo.AlgorithmID,
		Version:       algo.Version,
		ClientUID:     clientUID,
		Value:         input,
	}
}

// NewStartEngineResponse creates a new StartEngine response carrying the output of Prepare
func NewStartEngineResponse(output []byte, err error) *Message {
	return (&Message{MsgType: MsgTStartEngine, Value: output}).setErr(err)
}

// NewStopEngineRequest creates a new StopEngine request
func NewStopEngineRequest(txID uint64, input []byte) *Message {
	return &Message{
		MsgType:       MsgTStopEngine,
		TransactionID: txID,
		Value:         input,
	}
}

// NewStopEngineResponse creates a new StopEngine response
func NewStopEngineResponse(err error) *Message {
	return (&Message{MsgType: MsgTStopEngine}).setErr(err)
}

// NewSyncExecuteRequest creates a new SyncExecute request
func NewSyncExecuteRequest(req *core.Request) *Message {
	return newExecuteRequest(MsgTSyncExecute, req)
}

// NewSyncExecuteResponse creates a new SyncExecute response. A failed
// execution (err) and a response with an error code are both reported
// through RetCode and Err.
func NewSyncExecuteResponse(resp *core.Response, err error) *Message {
	msg := &Message{MsgType: MsgTSyncExecute}
	if resp != nil {
		msg.RequestID = resp.RequestID
		msg.TransactionID = resp.TransactionID
		msg.RetCode = resp.RetCode
		msg.Err = resp.RetDesc
		msg.Value = resp.Result
	}
	return msg.setErr(err)
}

// NewAsyncExecuteRequest creates a new AsyncExecute request
func NewAsyncExecuteRequest(req *core.Request) *Message {
	return newExecuteRequest(MsgTAsyncExecute, req)
}

// NewAsyncExecuteResponse creates a new AsyncExecute response carrying the
// sequence id the asynchronous reply will have
func NewAsyncExecuteResponse(seq uint64, err error) *Message {
	return (&Message{MsgType: MsgTAsyncExecute, RequestID: seq}).setErr(err)
}

// NewSetOptionRequest creates a new SetOption request
func NewSetOptionRequest(txID uint64, optionType int32, value []byte) *Message {
	return &Message{
		MsgType:       MsgTSetOption,
		TransactionID: txID,
		OptionType:    optionType,
		Value:         value,
	}
}

// NewSetOptionResponse creates a new SetOption response
func NewSetOptionResponse(err error) *Message {
	return (&Message{MsgType: MsgTSetOption}).setErr(err)
}

// NewGetOptionRequest creates a new GetOption request
func NewGetOptionRequest(txID uint64, optionType int32, input []byte) *Message {
	return &Message{
		MsgType:       MsgTGetOption,
		TransactionID: txID,
		OptionType:    optionType,
		Value:         input,
	}
}

// NewGetOptionResponse creates a new GetOption response
func NewGetOptionResponse(value []byte, err error) *Message {
	return (&Message{MsgType: MsgTGetOption, Value: value}).setErr(err)
}

// NewRegisterListenerRequest creates a new RegisterListener request. Replies
// of the transaction are pushed to the connection the request arrived on.
func NewRegisterListenerRequest(txID uint64) *Message {
	return &Message{MsgType: MsgTRegisterListener, TransactionID: txID}
}

// NewRegisterListenerResponse creates a new RegisterListener response
func NewRegisterListenerResponse(err error) *Message {
	return (&Message{MsgType: MsgTRegisterListener}).setErr(err)
}

// NewUnregisterListenerRequest creates a new UnregisterListener request
func NewUnregisterListenerRequest(txID uint64) *Message {
	return &Message{MsgType: MsgTUnregisterListener, TransactionID: txID}
}

// NewUnregisterListenerResponse creates a new UnregisterListener response
func NewUnregisterListenerResponse(err error) *Message {
	return (&Message{MsgType: MsgTUnregisterListener}).setErr(err)
}

// NewAsyncReply creates the message pushed to a client when an asynchronous
// request completed
func NewAsyncReply(resp *core.Response) *Message {
	return &Message{
		MsgType:       MsgTAsyncReply,
		TransactionID: resp.TransactionID,
		RequestID:     resp.RequestID,
		RetCode:       resp.RetCode,
		Err:           resp.RetDesc,
		Value:         resp.Result,
	}
}

// NewStatsRequest creates a new Stats request
func NewStatsRequest() *Message {
	return &Message{MsgType: MsgTStats}
}

// NewStatsResponse creates a new Stats response, value holds the JSON encoded engine statistics
func NewStatsResponse(value []byte, err error) *Message {
	return (&Message{MsgType: MsgTStats, Value: value}).setErr(err)
}

// NewSuccessResponse creates a new Success response
func NewSuccessResponse() *Message {
	return &Message{MsgType: MsgTSuccess}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err error) *Message {
	msg := (&Message{MsgType: MsgTError}).setErr(err)
	if msg.Err == "" {
		msg.RetCode, msg.Err = core.CodeOperationFailed, "unknown error"
	}
	return msg
}

func newExecuteRequest(msgType MessageType, req *core.Request) *Message {
	return &Message{
		MsgType:       msgType,
		TransactionID: req.TransactionID,
		RequestID:     req.RequestID,
		OperationID:   req.OperationID,
		AlgorithmType: req.AlgorithmType,
		ClientUID:     req.ClientUID,
		Value:         req.Payload,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTStartEngine:
		return "startEngine"
	case MsgTStopEngine:
		return "stopEngine"
	case MsgTSyncExecute:
		return "syncExecute"
	case MsgTAsyncExecute:
		return "asyncExecute"
	case MsgTSetOption:
		return "setOption"
	case MsgTGetOption:
		return "getOption"
	case MsgTRegisterListener:
		return "registerListener"
	case MsgTUnregisterListener:
		return "unregisterListener"
	case MsgTAsyncReply:
		return "asyncReply"
	case MsgTStats:
		return "stats"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a message type of the protocol
func (t MessageType) Valid() bool {
	return t > MsgTUnknown && t <= MsgTStats
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "startEngine":
		*t = MsgTStartEngine
	case "stopEngine":
		*t = MsgTStopEngine
	case "syncExecute":
		*t = MsgTSyncExecute
	case "asyncExecute":
		*t = MsgTAsyncExecute
	case "setOption":
		*t = MsgTSetOption
	case "getOption":
		*t = MsgTGetOption
	case "registerListener":
		*t = MsgTRegisterListener
	case "unregisterListener":
		*t = MsgTUnregisterListener
	case "asyncReply":
		*t = MsgTAsyncReply
	case "stats":
		*t = MsgTStats
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Engine lifecycle

	MsgTStartEngine // Bind a transaction to an engine
	MsgTStopEngine  // Release a transaction from its engine

	// Execution

	MsgTSyncExecute  // Run a request and wait for the result
	MsgTAsyncExecute // Queue a request, the result is pushed as AsyncReply
	MsgTAsyncReply   // Server pushed result of an asynchronous request

	// Plugin options

	MsgTSetOption // Set a plugin option
	MsgTGetOption // Read a plugin option

	// Listeners

	MsgTRegisterListener   // Receive the asynchronous replies of a transaction
	MsgTUnregisterListener // Stop receiving them

	// Introspection

	MsgTStats // Engine statistics
)
