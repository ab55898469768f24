package broker

import "github.com/cockroachdb/errors"

var (
	// ErrNotConnected is returned when a packet other than CONNECT arrives on a
	// connection that hasn't completed its handshake yet.
	ErrNotConnected = errors.New("broker: packet received before CONNECT")

	// ErrSessionBanned is returned when a banned client attempts to reconnect.
	ErrSessionBanned = errors.New("broker: session is banned")

	// ErrUnsupportedPacket is returned for a decoded packet type dispatch has no
	// handler for (AUTH, or anything the catalog returned that isn't client-to-server).
	ErrUnsupportedPacket = errors.New("broker: unsupported packet type for this direction")

	// ErrFlowRateExceeded is returned when a client's per-QoS publish rate goes
	// over its configured ceiling; the session is banned as a side effect.
	ErrFlowRateExceeded = errors.New("broker: publish flow rate exceeded")

	// ErrAuthenticationFailed is returned when a CONNECT's username/password
	// is rejected by every registered hook.Manager.OnConnectAuthenticate hook.
	ErrAuthenticationFailed = errors.New("broker: authentication failed")

	// ErrSecondConnect is returned when a second CONNECT arrives on a
	// connection that has already completed its handshake.
	ErrSecondConnect = errors.New("broker: second CONNECT on an already-connected connection")
)
