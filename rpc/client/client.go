package client

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/engine"
	"github.com/ValentinKolb/aibroker/rpc/common"
	"github.com/ValentinKolb/aibroker/rpc/serializer"
	"github.com/ValentinKolb/aibroker/rpc/transport"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// ReplyHandler receives the asynchronous replies of a session. It is called
// from the connection's reader goroutine and must return quickly.
type ReplyHandler func(resp *core.Response)

// NewClient connects to a broker
// The function takes a config, a transport and a serializer as parameters.
// Every client gets a random client uid that is sent with its requests.
func NewClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Client, error) {
	c := &Client{
		rpcClientAdapter: rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		uid:       uuid.NewString(),
		listeners: xsync.NewMapOf[uint64, ReplyHandler](),
	}

	// replies may arrive as soon as the first listener is registered
	transport.OnNotify(c.onNotify)

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return c, nil
}

// Client is a connection to a broker. It starts sessions and routes pushed
// replies to the listener of their session.
type Client struct {
	rpcClientAdapter
	uid       string
	listeners *xsync.MapOf[uint64, ReplyHandler]
}

// Session is one transaction bound to an engine of the broker
type Session struct {
	client        *Client
	txID          uint64
	algo          core.AlgoInfo
	nextRequestID atomic.Uint64
	stopped       atomic.Bool
}

// --------------------------------------------------------------------------
// Client Methods
// --------------------------------------------------------------------------

// UID returns the client uid sent with every request
func (c *Client) UID() string {
	return c.uid
}

// StartEngine binds a new transaction to the engine of algo and returns the
// session together with the output of the plugin's Prepare
func (c *Client) StartEngine(algo core.AlgoInfo, input []byte) (*Session, []byte, error) {
	txID := newTransactionID()

	resp, err := c.invoke(common.NewStartEngineRequest(txID, algo, c.uid, input))
	if err != nil {
		return nil, nil, fmt.Errorf("start engine %s: %w", algo.Key(), err)
	}

	Logger.Debugf("started transaction %d on engine %s", txID, algo.Key())
	return &Session{client: c, txID: txID, algo: algo}, resp.Value, nil
}

// Stats returns a snapshot of all engines of the broker
func (c *Client) Stats() ([]engine.EngineStats, error) {
	resp, err := c.invoke(common.NewStatsRequest())
	if err != nil {
		return nil, err
	}

	var stats []engine.EngineStats
	if err := json.Unmarshal(resp.Value, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return stats, nil
}

// Close closes the connection. The broker stops all sessions the client
// did not stop itself.
func (c *Client) Close() error {
	c.listeners.Clear()
	return c.transport.Close()
}

// onNotify routes a pushed reply to the listener of its transaction
func (c *Client) onNotify(_ uint64, payload []byte) {
	var msg common.Message
	if err := c.serializer.Deserialize(payload, &msg); err != nil {
		Logger.Errorf("failed to decode pushed message: %v", err)
		return
	}
	if msg.MsgType != common.MsgTAsyncReply {
		Logger.Warningf("ignoring pushed message of type %s", msg.MsgType)
		return
	}

	handler, ok := c.listeners.Load(msg.TransactionID)
	if !ok {
		Logger.Debugf("no listener for reply %d of transaction %d", msg.RequestID, msg.TransactionID)
		return
	}
	handler(msg.Response())
}

// --------------------------------------------------------------------------
// Session Methods
// --------------------------------------------------------------------------

// TransactionID returns the transaction id of the session
func (s *Session) TransactionID() uint64 {
	return s.txID
}

// Algo returns the engine the session is bound to
func (s *Session) Algo() core.AlgoInfo {
	return s.algo
}

// SyncExecute runs req on the engine and waits for the result.
// TransactionID and ClientUID are set by the session, a zero RequestID is
// replaced by the next request id of the session.
func (s *Session) SyncExecute(req *core.Request) (*core.Response, error) {
	resp, err := s.client.invoke(common.NewSyncExecuteRequest(s.request(req)))
	if err != nil {
		return nil, err
	}
	return resp.Response(), nil
}

// AsyncExecute queues req on the engine and returns the sequence id the
// reply will carry as RequestID. Replies are passed to the handler installed
// with SetListener.
func (s *Session) AsyncExecute(req *core.Request) (uint64, error) {
	resp, err := s.client.invoke(common.NewAsyncExecuteRequest(s.request(req)))
	if err != nil {
		return 0, err
	}
	return resp.RequestID, nil
}

// SetListener installs the handler of the asynchronous replies of the
// session, replacing any previous one. A nil handler removes the listener.
func (s *Session) SetListener(handler ReplyHandler) error {
	if handler == nil {
		s.client.listeners.Delete(s.txID)
		_, err := s.client.invoke(common.NewUnregisterListenerRequest(s.txID))
		return err
	}

	s.client.listeners.Store(s.txID, handler)
	if _, err := s.client.invoke(common.NewRegisterListenerRequest(s.txID)); err != nil {
		s.client.listeners.Delete(s.txID)
		return err
	}
	return nil
}

// SetOption forwards an option to the plugin of the engine
func (s *Session) SetOption(optionType int32, value []byte) error {
	_, err := s.client.invoke(common.NewSetOptionRequest(s.txID, optionType, value))
	return err
}

// GetOption reads an option from the plugin of the engine
func (s *Session) GetOption(optionType int32, input []byte) ([]byte, error) {
	resp, err := s.client.invoke(common.NewGetOptionRequest(s.txID, optionType, input))
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Stop removes the listener of the session and releases its engine.
// Stopping a session twice returns core.ErrNoSuchEngine.
func (s *Session) Stop(input []byte) error {
	if s.stopped.Swap(true) {
		return fmt.Errorf("transaction %d: %w", s.txID, core.ErrNoSuchEngine)
	}

	if _, ok := s.client.listeners.LoadAndDelete(s.txID); ok {
		if _, err := s.client.invoke(common.NewUnregisterListenerRequest(s.txID)); err != nil {
			Logger.Warningf("failed to unregister listener of transaction %d: %v", s.txID, err)
		}
	}

	if _, err := s.client.invoke(common.NewStopEngineRequest(s.txID, input)); err != nil {
		// the binding survives a failed release, allow another attempt
		s.stopped.Store(false)
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// request fills the session fields of req
func (s *Session) request(req *core.Request) *core.Request {
	if req == nil {
		req = &core.Request{}
	}
	r := *req
	r.TransactionID = s.txID
	r.ClientUID = s.client.uid
	if r.RequestID == 0 {
		r.RequestID = s.nextRequestID.Add(1)
	}
	return &r
}

// newTransactionID returns a random non zero transaction id
func newTransactionID() uint64 {
	for {
		id := uuid.New()
		if txID := binary.BigEndian.Uint64(id[:8]); txID != 0 {
			return txID
		}
	}
}
