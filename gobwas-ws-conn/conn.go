// Package gobwas_ws_conn implements the Conn interface from
// https://github.com/SirGFM/go-relay-i-guess over a raw network connection
// upgraded by https://github.com/gobwas/ws.
package gobwas_ws_conn

import (
    "errors"
    "io"
    "log/slog"
    "net"
    "net/http"
    "sync"
    "sync/atomic"
    "time"

    relay "github.com/SirGFM/go-relay-i-guess"
    "github.com/gobwas/ws"
    "github.com/gobwas/ws/wsutil"
)

// defaultPing is sent on ping messages as the application data.
const defaultPing = "go_relay_i_guess says hi"

// defaultTimeout is used when `Options.Timeout` isn't positive.
const defaultTimeout = time.Second * 30

const module = "go_relay_i_guess/gobwas-ws-conn"

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

// wsConn wrap an upgraded net.Conn into a relay.Conn.
type wsConn struct {
    conn net.Conn

    addr string
    reference string

    timeout time.Duration

    // timedOut is set after the first read timeout, and cleared on any
    // activity.
    timedOut bool

    // pending text messages, read together with a control frame.
    pending []string

    // buf is reused by every read.
    buf []wsutil.Message

    // sendMutex synchronizes write operations on `conn`.
    sendMutex sync.Mutex

    // Whether the connection is currently active.
    active uint32

    logger *slog.Logger
}

func (c *wsConn) isActive() bool {
    return atomic.LoadUint32(&c.active) == 1
}

// Close the connection, trying to let the remote endpoint know about it.
func (c *wsConn) Close() error {
    if atomic.CompareAndSwapUint32(&c.active, 1, 0) {
        c.sendMutex.Lock()
        wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
        c.conn.Close()
        c.sendMutex.Unlock()
    }

    return nil
}

func (c *wsConn) RemoteAddr() string {
    return c.addr
}

func (c *wsConn) SessionReference() string {
    return c.reference
}

// send a single frame, properly synchronizing the connection.
func (c *wsConn) send(op ws.OpCode, data []byte) error {
    c.sendMutex.Lock()
    defer c.sendMutex.Unlock()

    if !c.isActive() {
        return relay.ConnEOF
    }
    return wsutil.WriteServerMessage(c.conn, op, data)
}

// SendStr send `msg`, previously formatted by the caller. An empty message
// is sent as an unrequested pong.
func (c *wsConn) SendStr(msg string) error {
    if len(msg) == 0 {
        return c.send(ws.OpPong, nil)
    }
    return c.send(ws.OpText, []byte(msg))
}

// Recv blocks until a new text message was received.
//
// Control frames are handled here: pings get ponged, and a close frame
// closes the connection. Reads are bounded by the connection's timeout;
// the first timeout pings the remote endpoint and the second one closes
// the connection.
func (c *wsConn) Recv() (string, error) {
    for c.isActive() {
        if len(c.pending) > 0 {
            msg := c.pending[0]
            c.pending = c.pending[1:]
            return msg, nil
        }

        c.conn.SetReadDeadline(time.Now().Add(c.timeout))

        var err error
        c.buf, err = wsutil.ReadClientMessage(c.conn, c.buf[:0])
        if err != nil {
            var netErr net.Error
            if errors.As(err, &netErr) && netErr.Timeout() && !c.timedOut {
                c.timedOut = true
                if c.send(ws.OpPing, []byte(defaultPing)) == nil {
                    continue
                }
            }

            c.logger.Debug(module + ": Couldn't read", "addr", c.addr,
                    "error", err)
            c.Close()
            return "", relay.ConnEOF
        }
        c.timedOut = false

        for i := range c.buf {
            data := &(c.buf[i])
            switch data.OpCode {
            case ws.OpClose:
                c.Close()
                return "", relay.ConnEOF
            case ws.OpPing:
                err = c.send(ws.OpPong, data.Payload)
                if err != nil {
                    c.Close()
                    return "", relay.ConnEOF
                }
            case ws.OpText:
                c.pending = append(c.pending, string(data.Payload))
            }
        }
    }

    return "", relay.ConnEOF
}

// NewConn upgrade a HTTP request to a relay connection.
//
// The client's address and stored-session reference are taken from `req`
// before upgrading. Differently from gorilla/ws, timeouts are detected
// with read deadlines on the underlying connection, so no extra goroutine
// is spawned.
func NewConn(opts Options, w http.ResponseWriter,
        req *http.Request) (relay.Conn, error) {

    addr := relay.ClientAddr(req, opts.TrustProxy)
    reference := relay.SessionReference(req)

    conn, _, _, err := ws.UpgradeHTTP(req, w)
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

    return &wsConn {
        conn: conn,
        addr: addr,
        reference: reference,
        timeout: timeout,
        active: 1,
        logger: logger,
    }, nil
}
