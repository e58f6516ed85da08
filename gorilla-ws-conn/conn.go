// Package gorilla_ws_conn implements the Conn interface from
// https://github.com/SirGFM/go-relay-i-guess over a WebSocket connection
// from https://github.com/gorilla/websocket.
package gorilla_ws_conn

import (
    "io"
    "log/slog"
    "net/http"
    "sync"
    "sync/atomic"
    "time"

    relay "github.com/SirGFM/go-relay-i-guess"
    gows "github.com/gorilla/websocket"
)

// defaultPing is sent on ping messages as the application data.
const defaultPing = "go_relay_i_guess says hi"

// defaultTimeout is used when `Options.Timeout` isn't positive.
const defaultTimeout = time.Second * 30

// module is the string used when logging messages from this package.
const module = "go_relay_i_guess/gorilla-ws-conn"

// Options configures connections upgraded by `NewConn`.
type Options struct {
    // Timeout without any message from the remote endpoint before it gets
    // pinged. The connection is closed after a second timeout.
    Timeout time.Duration

    // TrustProxy takes the client's address from `X-Forwarded-For`.
    TrustProxy bool

    // Logger for transport errors. May be nil.
    Logger *slog.Logger
}

// gwsConn wrap a gorilla/ws connection into a relay.Conn.
type gwsConn struct {
    // The gorilla WebSocket connection.
    conn *gows.Conn

    // addr of the client, as seen by the HTTP server.
    addr string

    // reference to a stored session, taken from the upgrade request.
    reference string

    // How long the connection waits until sending a ping back to the
    // remote endpoint.
    timeout time.Duration

    // ticker generates a message on a channel if `timeout` elapsed without
    // receiving any message.
    ticker *time.Ticker

    // timeoutCount counts the number of consecutive timeouts that happened.
    timeoutCount uint32

    // sendMutex synchronizes write operations on `conn`.
    sendMutex sync.Mutex

    // Whether the connection is currently active.
    active uint32

    // stop signals, by getting closed, that the connection should get
    // closed.
    stop chan struct{}

    logger *slog.Logger
}

// isActive check if the connection is still active.
func (c *gwsConn) isActive() bool {
    return atomic.LoadUint32(&c.active) == 1
}

// Close the connection.
func (c *gwsConn) Close() error {
    if atomic.CompareAndSwapUint32(&c.active, 1, 0) {
        c.sendMutex.Lock()
        c.conn.Close()
        c.sendMutex.Unlock()

        c.ticker.Stop()
        close(c.stop)
    }

    return nil
}

// RemoteAddr retrieve the address of the remote client.
func (c *gwsConn) RemoteAddr() string {
    return c.addr
}

// SessionReference retrieve the stored-session reference sent with the
// upgrade request, if any.
func (c *gwsConn) SessionReference() string {
    return c.reference
}

// resetTimeout reset the last timeout.
//
// This must be called whenever this connections receives any message from
// its remote endpoint.
func (c *gwsConn) resetTimeout() {
    atomic.StoreUint32(&c.timeoutCount, 0)
    if c.isActive() {
        c.ticker.Reset(c.timeout)
    }
}

// Recv blocks until a new text message was received.
func (c *gwsConn) Recv() (string, error) {
    for c.isActive() {
        typ, txt, err := c.conn.ReadMessage()
        if err != nil {
            c.Close()
            return "", relay.ConnEOF
        }

        c.resetTimeout()

        switch typ {
        case gows.CloseMessage:
            c.Close()
            return "", relay.ConnEOF
        case gows.TextMessage:
            return string(txt), nil
        default:
            continue
        }
    }

    return "", relay.ConnEOF
}

// send the message, properly synchronizing the connection.
func (c *gwsConn) send(mType int, data []byte) error {
    c.sendMutex.Lock()
    defer c.sendMutex.Unlock()

    if !c.isActive() {
        return relay.ConnEOF
    }
    return c.conn.WriteMessage(mType, data)
}

// SendStr send `msg`, previously formatted by the caller.
func (c *gwsConn) SendStr(msg string) error {
    mType := gows.TextMessage

    if len(msg) == 0 {
        // In case of empty message, just change it into a pong, to check
        // if the remote endpoint is alive.
        mType = gows.PongMessage
    }

    return c.send(mType, []byte(msg))
}

// detectTimeout wait some time checking if the connection timed out.
//
// After two consecutive timeouts, the connection is automatically closed.
func (c *gwsConn) detectTimeout() {
    for c.isActive() {
        select {
        case <-c.ticker.C:
            if atomic.CompareAndSwapUint32(&c.timeoutCount, 0, 1) {
                // Try to ping the remote endpoint and see if there's any
                // response.
                err := c.send(gows.PingMessage, []byte(defaultPing))
                if err != nil {
                    c.logger.Debug(module + ": Couldn't ping on timeout",
                            "addr", c.addr, "error", err)
                    c.Close()
                }
            } else {
                c.logger.Debug(module + ": Connection timed out",
                        "addr", c.addr)
                c.Close()
            }
        case <-c.stop:
            /* Do nothing and simply exit */
        }
    }
}

// ping handle received ping messages.
//
// The WebSocket protocol defines that the receiver must respond with a
// pong with the same `appData` as received. A custom handler guarantees
// that this write isn't concurrent to other messages.
func (c *gwsConn) ping(appData string) error {
    c.resetTimeout()

    return c.send(gows.PongMessage, []byte(appData))
}

// pong handle received pong messages, which only count as activity.
func (c *gwsConn) pong(appData string) error {
    c.resetTimeout()
    return nil
}

// NewConn upgrade a HTTP connection to a relay connection.
//
// The supplied `upgrader` is used to upgrade the HTTP request into a
// WebSocket connection. The client's address and stored-session reference
// are taken from `req` before upgrading.
//
// Gorilla/ws's documentation specifies that if `SetReadDeadline` is set
// and a read times out, the websocket becomes corrupt. To work around
// that, `NewConn` spawns a goroutine to manually detect timeouts.
func NewConn(upgrader gows.Upgrader, opts Options,
        w http.ResponseWriter, req *http.Request) (relay.Conn, error) {

    addr := relay.ClientAddr(req, opts.TrustProxy)
    reference := relay.SessionReference(req)

    conn, err := upgrader.Upgrade(w, req, nil)
    if err != nil {
        return nil, err
    }

    timeout := opts.Timeout
    if timeout <= 0 {
        timeout = defaultTimeout
    }

    logger := opts.Logger
    if logger == nil {
        logger = slog.New(slog.NewTextHandler(io.Discard, nil))
    }

    c := &gwsConn {
        conn: conn,
        addr: addr,
        reference: reference,
        timeout: timeout,
        ticker: time.NewTicker(timeout),
        timeoutCount: 0,
        active: 1,
        stop: make(chan struct{}),
        logger: logger,
    }
    conn.SetPingHandler(c.ping)
    conn.SetPongHandler(c.pong)
    go c.detectTimeout()

    return c, nil
}
