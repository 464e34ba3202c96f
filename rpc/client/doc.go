// Package client implements the RPC client SDK of the broker. Applications use
// it to start engines, run inference requests and receive asynchronous
// replies from a broker process on the same device or over TCP.
//
// The package focuses on:
//   - Transparent access to the dispatcher operations of a remote broker
//   - Delivery of pushed asynchronous replies to per session handlers
//   - Error handling and conversion between RPC and core errors
//
// Key Components:
//
//   - Client: One (pooled) connection to a broker. It owns a random client uid
//     and routes pushed replies by transaction id.
//
//   - Session: One transaction bound to an engine. Created by
//     Client.StartEngine with a random transaction id, released by Stop.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"/tmp/aibroker.sock"},
//	  TimeoutSecond: 60, // above the broker's sync timeout
//	}
//
//	c, _ := client.NewClient(config, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
//	defer c.Close()
//
//	session, _, _ := c.StartEngine(core.AlgoInfo{AlgorithmID: "echo", Version: 1}, nil)
//	resp, _ := session.SyncExecute(&core.Request{Payload: []byte("hello")})
//	fmt.Println(string(resp.Result))
//	session.Stop(nil)
//
// Errors returned by the broker are *core.Error values, errors.Is matches them
// against the sentinels of the core package (e.g. core.ErrEngineNotFound).
//
// Thread Safety:
//
//	Client and Session are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
