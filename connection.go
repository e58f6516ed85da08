package go_relay_i_guess

import (
    "context"
    "encoding/json"
    "io"
    "log/slog"
    "sync/atomic"

    "github.com/google/uuid"
)

// Conn is a generic interface for sending and receiving messages.
type Conn interface {
    io.Closer

    // Recv blocks until a new message was received.
    Recv() (string, error)

    // SendStr send `msg`, previously formatted by the caller.
    SendStr(msg string) error

    // RemoteAddr retrieve the address of the remote client.
    RemoteAddr() string
}

// SessionReferrer is implemented by connections that carry a reference to
// a session issued elsewhere (e.g., in a cookie sent with the upgrade
// request).
type SessionReferrer interface {
    SessionReference() string
}

// States of a connection. A connection only ever moves forward, except
// for a failed bind, which reverts it to `connUnbound`.
const (
    connUnbound uint32 = iota
    connBound
    connClosed
)

// connection associates a `Conn` to the session it's bound to.
type connection struct {
    // id identifies the connection in logs.
    id string

    // The connection to the remote endpoint.
    conn Conn

    // addr is the remote client's address.
    addr string

    // reference to a stored session, presented by the transport.
    reference string

    server *server

    // state of the connection: unbound, bound or closed.
    state uint32

    // session provisioned for this connection. Only accessed by the
    // connection's goroutine.
    session *Session

    // handlers for every inbound event, registered when binding.
    handlers map[string]handlerFunc

    // ctx is cancelled as soon as the remote endpoint goes away.
    ctx context.Context
    cancel context.CancelFunc

    // inbox receives messages from `pump`, in arrival order.
    inbox chan string

    logger *slog.Logger
}

// isBound check if the connection is bound to a session.
func (c *connection) isBound() bool {
    return atomic.LoadUint32(&c.state) == connBound
}

// send the event `name` to this connection only.
func (c *connection) send(name string, data interface{}) error {
    msg, err := encodeEvent(name, data)
    if err != nil {
        return err
    }
    return c.conn.SendStr(msg)
}

// pump wait for new messages from the remote endpoint and queue them.
//
// Once the endpoint goes away, the connection's context gets cancelled,
// stopping any lookup still running on its behalf.
func (c *connection) pump() {
    defer close(c.inbox)
    defer c.cancel()

    for {
        msg, err := c.conn.Recv()
        if err != nil {
            return
        }

        select {
        case c.inbox <- msg:
        case <-c.ctx.Done():
            return
        }
    }
}

// runAndWait handle every message from the remote endpoint, blocking until
// it disconnects.
func (c *connection) runAndWait() {
    defer c.close()

    go c.pump()
    c.accept()

    for msg := range c.inbox {
        c.dispatch(msg)
    }
}

// accept a newly arrived connection.
//
// Without credentials, the connection is provisioned right away.
// Otherwise, the client is prompted to authenticate and, if the transport
// presented a stored-session reference, it's tried silently.
func (c *connection) accept() {
    if !c.server.provisioner.RequiresCredentials() {
        c.authenticate(Credential{}, false)
        return
    }

    err := c.send(EventAuth, &authReply{Success: true})
    if err != nil {
        c.logger.Debug("go_relay_i_guess/connection: Couldn't prompt for authentication",
                "conn", c.id, "error", err)
        return
    }

    if len(c.reference) > 0 {
        c.authenticate(Credential{Reference: c.reference}, true)
    }
}

// dispatch a single message to its handler.
//
// Until the connection gets bound, only `auth` is handled (and only if
// credentials are required).
func (c *connection) dispatch(msg string) {
    name, data, err := decodeEvent(msg)
    if err != nil {
        c.logger.Debug("go_relay_i_guess/connection: Ignoring malformed message",
                "conn", c.id)
        return
    }

    if !c.isBound() {
        if name != EventAuth || !c.server.provisioner.RequiresCredentials() {
            c.logger.Debug("go_relay_i_guess/connection: Ignoring event on unbound connection",
                    "conn", c.id, "event", name)
            return
        }

        var cred Credential
        if len(data) > 0 && json.Unmarshal(data, &cred) != nil {
            cred = Credential{}
        }
        cred.Reference = c.reference

        c.authenticate(cred, false)
        return
    }

    handler, ok := c.handlers[name]
    if !ok {
        c.logger.Debug("go_relay_i_guess/connection: Ignoring unknown event",
                "conn", c.id, "event", name)
        return
    }
    handler(data)
}

// authenticate the connection with `cred` and bind it to the resulting
// session.
//
// Failures are reported to the remote client as `auth {success: false}`
// and leave the connection unbound. Quiet failures are neither reported
// nor counted.
func (c *connection) authenticate(cred Credential, quiet bool) error {
    p := c.server.provisioner

    s, err := p.Provision(c.ctx, cred)
    if err == nil {
        // Remember the session right away, so it's released on disconnect
        // even if binding fails.
        c.session = s

        if c.server.conf.EnrichmentRequired {
            c.server.enricher.enrichSession(c.ctx, s, c.addr)
        }
        err = c.bind(s)
    }

    if err == nil {
        c.server.metrics.recordAuth(p.Mode(), true)
        return nil
    }

    c.logger.Debug("go_relay_i_guess/connection: Authentication failed",
            "conn", c.id, "addr", c.addr, "error", err)
    if quiet {
        return err
    }
    c.server.metrics.recordAuth(p.Mode(), false)
    if err != ConnEOF {
        c.send(EventAuth, &authReply{Success: false})
    }

    return err
}

// bind the connection to `s`, register its handlers and send it the
// session's snapshot.
//
// Binding fails with `ConnEOF` if the remote endpoint went away while
// authenticating, and with `SessionClosed` if `s` was destroyed meanwhile.
func (c *connection) bind(s *Session) error {
    if c.ctx.Err() != nil {
        return ConnEOF
    }
    if !atomic.CompareAndSwapUint32(&c.state, connUnbound, connBound) {
        if atomic.LoadUint32(&c.state) == connClosed {
            return ConnEOF
        }
        return AlreadyBound
    }

    err := s.attach(c)
    if err != nil {
        atomic.CompareAndSwapUint32(&c.state, connBound, connUnbound)
        return err
    }

    c.session = s
    c.handlers = c.newHandlers(s)
    c.server.metrics.recordBound(1)

    c.logger.Info("go_relay_i_guess/connection: Connection bound",
            "conn", c.id, "session", s.ID(), "user", s.User(), "addr", c.addr)

    snap := s.Client().Snapshot()
    reply := &initReply {
        Active: snap.Active,
        Networks: snap.Networks,
    }
    if token := s.Token(); len(token) > 0 {
        reply.Token = &token
    }

    err = c.send(EventInit, reply)
    if err != nil {
        c.logger.Debug("go_relay_i_guess/connection: Couldn't send the snapshot",
                "conn", c.id, "error", err)
    }

    return nil
}

// Close the connection's transport, which makes its goroutine clean up
// everything else.
//
// This can safely be called multiple times (and from multiple goroutines).
func (c *connection) Close() error {
    c.cancel()
    return c.conn.Close()
}

// close the connection and release its session.
func (c *connection) close() {
    prev := atomic.SwapUint32(&c.state, connClosed)
    if prev == connClosed {
        return
    }

    c.cancel()
    c.conn.Close()

    if prev == connBound {
        c.server.metrics.recordBound(-1)
    }
    if c.session != nil {
        c.server.provisioner.Release(c.session, c)
    }
    c.server.forget(c)

    c.logger.Debug("go_relay_i_guess/connection: Connection closed",
            "conn", c.id, "addr", c.addr)
}

// newConnection wrap `conn` into a new, unbound, connection.
func newConnection(s *server, conn Conn) *connection {
    ctx, cancel := context.WithCancel(context.Background())

    c := &connection {
        id: uuid.NewString(),
        conn: conn,
        addr: conn.RemoteAddr(),
        server: s,
        state: connUnbound,
        ctx: ctx,
        cancel: cancel,
        inbox: make(chan string),
        logger: s.logger,
    }
    if ref, ok := conn.(SessionReferrer); ok {
        c.reference = ref.SessionReference()
    }

    return c
}
