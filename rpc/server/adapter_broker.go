package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/dispatcher"
	"github.com/ValentinKolb/aibroker/lib/future"
	"github.com/ValentinKolb/aibroker/rpc/common"
	"github.com/ValentinKolb/aibroker/rpc/serializer"
	"github.com/ValentinKolb/aibroker/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// NewBrokerServerAdapter creates the adapter that maps messages onto the dispatcher
func NewBrokerServerAdapter(d *dispatcher.Dispatcher, s serializer.IRPCSerializer) IRPCServerAdapter {
	return &brokerServerAdapter{
		dispatcher: d,
		serializer: s,
		sessions:   xsync.NewMapOf[uint64, *session](),
	}
}

type brokerServerAdapter struct {
	dispatcher *dispatcher.Dispatcher
	serializer serializer.IRPCSerializer
	sessions   *xsync.MapOf[uint64, *session]
}

// session tracks what a single connection holds in the dispatcher
type session struct {
	mu        sync.Mutex
	txs       map[uint64]struct{} // transactions started over the connection
	listeners map[uint64]struct{} // transactions whose replies are pushed to the connection
}

// --------------------------------------------------------------------------
// Interface Methods (docu see server.IRPCServerAdapter)
// --------------------------------------------------------------------------

func (a *brokerServerAdapter) Handle(conn transport.IConn, req *common.Message) (resp *common.Message) {
	switch req.MsgType {
	case common.MsgTStartEngine:
		out, err := a.dispatcher.StartEngine(req.TransactionID, req.AlgoInfo(), req.Value)
		if err == nil {
			a.session(conn).track(req.TransactionID, true)
		}
		return common.NewStartEngineResponse(out, err)

	case common.MsgTStopEngine:
		err := a.dispatcher.StopEngine(req.TransactionID, req.Value)
		if err == nil {
			a.session(conn).untrack(req.TransactionID, true)
		}
		return common.NewStopEngineResponse(err)

	case common.MsgTSyncExecute:
		resp, err := a.dispatcher.SyncExecute(context.Background(), req.Request())
		return common.NewSyncExecuteResponse(resp, err)

	case common.MsgTAsyncExecute:
		seq, err := a.dispatcher.AsyncExecute(req.Request())
		return common.NewAsyncExecuteResponse(seq, err)

	case common.MsgTSetOption:
		return common.NewSetOptionResponse(a.dispatcher.SetOption(req.TransactionID, req.OptionType, req.Value))

	case common.MsgTGetOption:
		value, err := a.dispatcher.GetOption(req.TransactionID, req.OptionType, req.Value)
		return common.NewGetOptionResponse(value, err)

	case common.MsgTRegisterListener:
		err := a.dispatcher.RegisterListener(req.TransactionID, a.pushListener(conn))
		if err == nil {
			a.session(conn).track(req.TransactionID, false)
		}
		return common.NewRegisterListenerResponse(err)

	case common.MsgTUnregisterListener:
		var err error
		if !a.dispatcher.UnregisterListener(req.TransactionID) {
			err = fmt.Errorf("transaction %d: %w", req.TransactionID, core.ErrNoListenerFound)
		}
		a.session(conn).untrack(req.TransactionID, false)
		return common.NewUnregisterListenerResponse(err)

	case common.MsgTStats:
		value, err := json.Marshal(a.dispatcher.Stats())
		return common.NewStatsResponse(value, err)

	default:
		return common.NewErrorResponse(fmt.Errorf("RPC BrokerAdapter - unsupported message type %s: %w", req.MsgType, core.ErrInvalidArgument))
	}
}

func (a *brokerServerAdapter) Disconnect(conn transport.IConn) {
	s, ok := a.sessions.LoadAndDelete(conn.ID())
	if !ok {
		return
	}

	s.mu.Lock()
	listeners := sortedKeys(s.listeners)
	txs := sortedKeys(s.txs)
	s.mu.Unlock()

	if len(listeners) == 0 && len(txs) == 0 {
		return
	}
	Logger.Infof("client %s disconnected, releasing %d listeners and %d transactions", conn.RemoteAddr(), len(listeners), len(txs))

	for _, txID := range listeners {
		a.dispatcher.UnregisterListener(txID)
	}
	for _, txID := range txs {
		if err := a.dispatcher.StopEngine(txID, nil); err != nil {
			Logger.Warningf("failed to stop transaction %d of %s: %v", txID, conn.RemoteAddr(), err)
		}
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// session returns the session of conn, creating it on first use
func (a *brokerServerAdapter) session(conn transport.IConn) *session {
	s, _ := a.sessions.LoadOrCompute(conn.ID(), func() *session {
		return &session{
			txs:       make(map[uint64]struct{}),
			listeners: make(map[uint64]struct{}),
		}
	})
	return s
}

// pushListener returns a listener that sends every reply to conn
func (a *brokerServerAdapter) pushListener(conn transport.IConn) future.IListener {
	return future.ListenerFunc(func(f *future.Future) {
		resp := f.Response()
		if resp == nil {
			return
		}

		data, err := a.serializer.Serialize(*common.NewAsyncReply(resp))
		if err != nil {
			Logger.Errorf("failed to serialize reply %d of transaction %d: %v", resp.RequestID, resp.TransactionID, err)
			return
		}
		if err := conn.Push(transport.ChannelNotify, data); err != nil {
			Logger.Debugf("dropped reply %d of transaction %d for %s: %v", resp.RequestID, resp.TransactionID, conn.RemoteAddr(), err)
		}
	})
}

// track records a started transaction (engine) or a registered listener
func (s *session) track(txID uint64, engine bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if engine {
		s.txs[txID] = struct{}{}
	} else {
		s.listeners[txID] = struct{}{}
	}
}

func (s *session) untrack(txID uint64, engine bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if engine {
		delete(s.txs, txID)
	} else {
		delete(s.listeners, txID)
	}
}

func sortedKeys(set map[uint64]struct{}) []uint64 {
	keys := make([]uint64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
