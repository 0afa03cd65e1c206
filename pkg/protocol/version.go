// Package protocol defines the wire records, error codes, and tool
// catalogue schema shared by the Server, Bridge, and Worker processes.
package protocol

// ProtocolVersion is embedded in session_init/session_recovery records
// so peers can detect a version mismatch. Per spec §4.4.4, a mismatch is
// logged by the receiver but never aborts the connection.
const ProtocolVersion = 3

// DefaultSocketPath is the well-known local stream socket both the
// Server and the Bridge rendezvous on (spec §6).
const DefaultSocketPath = "/tmp/viyv-browser.sock"

// SocketPathEnv overrides DefaultSocketPath on the Bridge side.
const SocketPathEnv = "VIYV_BROWSER_SOCKET"
