package network

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSubprotocols lists the WebSocket subprotocols a broker offers clients
// negotiating ws:// or wss://; "mqtt" is what every MQTT-over-WebSocket client
// requests in practice, even on brokers that otherwise speak MQTT 3.1.1 or 5.0.
var wsSubprotocols = []string{"mqtt", "mqttv3.1"}

// wsConn adapts a *websocket.Conn to net.Conn so it can flow through the same
// Connection/Pool/Listener machinery as a plain TCP socket: each inbound
// binary WebSocket message is treated as a chunk of the underlying MQTT byte
// stream, buffered across Read calls when the caller's buffer is smaller than
// one message.
type wsConn struct {
	ws       *websocket.Conn
	readMu   sync.Mutex
	writeMu  sync.Mutex
	leftover []byte
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(b []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.leftover) > 0 {
		n := copy(b, c.leftover)
		c.leftover = c.leftover[n:]
		return n, nil
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return 0, err
	}
	n := copy(b, data)
	if n < len(data) {
		c.leftover = data[n:]
	}
	return n, nil
}

func (c *wsConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) Close() error                     { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr              { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr             { return c.ws.RemoteAddr() }
func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

var _ net.Conn = (*wsConn)(nil)

// WebSocketListenerConfig configures a WebSocketListener.
type WebSocketListenerConfig struct {
	Address   string
	Path      string // defaults to "/mqtt"
	TLSConfig *tls.Config
}

// WebSocketListener upgrades incoming HTTP(S) requests on Path to WebSocket
// connections and feeds each one into the same ConnectionHandler chain a plain
// Listener uses, via an embedded Listener fed by a tiny net.Listener adapter
// (wsNetListener) whose Accept() blocks on the HTTP server's upgrade handler.
type WebSocketListener struct {
	cfg      *WebSocketListenerConfig
	upgrader websocket.Upgrader
	server   *http.Server
	accept   *wsNetListener

	inner *Listener
}

// wsNetListener is a net.Listener whose Accept() is fed by an http.Handler.
type wsNetListener struct {
	connCh  chan net.Conn
	errCh   chan error
	closeCh chan struct{}
	addr    net.Addr
}

func newWSNetListener(addr net.Addr) *wsNetListener {
	return &wsNetListener{
		connCh:  make(chan net.Conn, 64),
		errCh:   make(chan error, 1),
		closeCh: make(chan struct{}),
		addr:    addr,
	}
}

func (l *wsNetListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case err := <-l.errCh:
		return nil, err
	case <-l.closeCh:
		return nil, net.ErrClosed
	}
}

func (l *wsNetListener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return nil
}

func (l *wsNetListener) Addr() net.Addr { return l.addr }

// NewWebSocketListener creates a WebSocket listener. It does not start
// accepting connections until Start is called.
func NewWebSocketListener(cfg *WebSocketListenerConfig, pool *Pool) (*WebSocketListener, error) {
	if cfg == nil {
		return nil, ErrInvalidAddress
	}
	path := cfg.Path
	if path == "" {
		path = "/mqtt"
	}

	l := &WebSocketListener{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			Subprotocols: wsSubprotocols,
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
	}

	lc := &ListenerConfig{Address: cfg.Address, TLSConfig: cfg.TLSConfig}
	inner, err := NewListener(lc, pool)
	if err != nil {
		return nil, err
	}
	l.inner = inner

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.server = &http.Server{Addr: cfg.Address, Handler: mux, TLSConfig: cfg.TLSConfig}

	return l, nil
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := newWSConn(ws)
	select {
	case l.accept.connCh <- conn:
	case <-l.accept.closeCh:
		conn.Close()
	}
}

// Start opens the listening socket and begins serving HTTP upgrade requests.
func (l *WebSocketListener) Start() error {
	netListener, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return err
	}
	if l.cfg.TLSConfig != nil {
		netListener = tls.NewListener(netListener, l.cfg.TLSConfig)
	}

	l.accept = newWSNetListener(netListener.Addr())
	l.inner.listener = l.accept

	go func() {
		if err := l.server.Serve(netListener); err != nil && err != http.ErrServerClosed {
			select {
			case l.accept.errCh <- err:
			default:
			}
		}
	}()

	// Listener.Start binds its own socket from config; that's already done
	// above (so the HTTP server and the accept loop share one listening
	// socket), so the accept loop is started directly instead.
	l.inner.wg.Add(1)
	go l.inner.acceptLoop()
	return nil
}

// OnConnection registers a handler invoked for every accepted connection.
func (l *WebSocketListener) OnConnection(handler ConnectionHandler) {
	l.inner.OnConnection(handler)
}

// Close shuts down the HTTP server and the underlying listener/pool wiring.
func (l *WebSocketListener) Close() error {
	_ = l.server.Close()
	if l.accept != nil {
		_ = l.accept.Close()
	}
	return l.inner.Close()
}

// Addr returns the listening address.
func (l *WebSocketListener) Addr() net.Addr {
	return l.inner.Addr()
}

// Stats reports accept/reject/active counters for this listener.
func (l *WebSocketListener) Stats() ListenerStats {
	return l.inner.Stats()
}
