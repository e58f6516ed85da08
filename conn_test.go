package go_relay_i_guess

import (
    "context"
    "encoding/json"
    "sync"
    "sync/atomic"
    "time"
)

// A simple mock connection, used to test the relay server without an
// actual HTTP connection.
//
// To simulate a message arriving from the client's remote endpoint, push a
// message into `fromClient` (or call `TestSend`). To simulate a client
// receiving a message, pop a message from `fromServer` (or call
// `TestRecv`, which doesn't hang if nothing arrives).
type mockConn struct {
    // fromClient simulates incoming messages (from the server's
    // perspectives) from the client's remote endpoint.
    fromClient chan string

    // fromServer simulates outgoing messages (from the server's
    // perspectives) to the client's remote endpoint.
    fromServer chan string

    // stop signals, by getting closed, that the connection should get
    // closed.
    stop chan struct{}

    // Whether the connection is currently running.
    running uint32

    addr string
    reference string
}

// mockReferrerConn is a mockConn that presents a stored-session reference.
type mockReferrerConn struct {
    *mockConn
}

func (mc mockReferrerConn) SessionReference() string {
    return mc.reference
}

// isClosed check if the connection is closed.
func (mc *mockConn) isClosed() bool {
    return atomic.LoadUint32(&mc.running) == 0
}

// Close the connection.
//
// This can safely be called multiple times without any issue.
func (mc *mockConn) Close() error {
    if atomic.CompareAndSwapUint32(&mc.running, 1, 0) {
        close(mc.stop)
    }
    return nil
}

// Recv blocks until a new message was received.
func (mc *mockConn) Recv() (string, error) {
    select {
    case msg := <-mc.fromClient:
        return msg, nil
    case <-mc.stop:
        return "", ConnEOF
    }
}

// SendStr send `msg`, previously formatted by the caller.
func (mc *mockConn) SendStr(msg string) error {
    if mc.isClosed() {
        return ConnEOF
    }

    mc.fromServer <- msg

    return nil
}

func (mc *mockConn) RemoteAddr() string {
    return mc.addr
}

// TestSend send an event from the client to the server.
func (mc *mockConn) TestSend(name string, data interface{}) error {
    msg, err := encodeEvent(name, data)
    if err != nil {
        return err
    }

    select {
    case mc.fromClient <- msg:
        return nil
    case <-mc.stop:
        return ConnEOF
    case <-time.After(time.Second):
        return TestTimeout
    }
}

// TestRecv wait for `timeout` to receive an event from the server.
func (mc *mockConn) TestRecv(timeout time.Duration) (string, json.RawMessage, error) {
    select {
    case msg := <-mc.fromServer:
        return decodeEvent(msg)
    case <-time.After(timeout):
        return "", nil, TestTimeout
    }
}

// newMockConn create a dummy, mock connection from `addr`.
func newMockConn(addr string) *mockConn {
    return &mockConn {
        fromClient: make(chan string),
        fromServer: make(chan string, 100),
        stop: make(chan struct{}),
        running: 1,
        addr: addr,
    }
}

// mockClient records every request forwarded to a session.
type mockClient struct {
    lock sync.Mutex

    session *Session
    calls []string
    payloads []json.RawMessage
    connects []ConnectRequest
    quit bool
}

func (m *mockClient) record(name string, data json.RawMessage) {
    m.lock.Lock()
    m.calls = append(m.calls, name)
    m.payloads = append(m.payloads, data)
    m.lock.Unlock()
}

func (m *mockClient) Input(data json.RawMessage) { m.record(EventInput, data) }
func (m *mockClient) More(data json.RawMessage) { m.record(EventMore, data) }
func (m *mockClient) Open(data json.RawMessage) { m.record(EventOpen, data) }
func (m *mockClient) Sort(data json.RawMessage) { m.record(EventSort, data) }
func (m *mockClient) Names(data json.RawMessage) { m.record(EventNames, data) }

func (m *mockClient) Connect(req ConnectRequest) {
    m.lock.Lock()
    m.calls = append(m.calls, EventConn)
    m.connects = append(m.connects, req)
    m.lock.Unlock()
}

func (m *mockClient) Snapshot() Snapshot {
    return Snapshot {
        Active: 3,
        Networks: []string{"freenode"},
    }
}

func (m *mockClient) Quit() {
    m.lock.Lock()
    m.quit = true
    m.lock.Unlock()
}

func (m *mockClient) Calls() []string {
    m.lock.Lock()
    defer m.lock.Unlock()
    return append([]string(nil), m.calls...)
}

func (m *mockClient) Connects() []ConnectRequest {
    m.lock.Lock()
    defer m.lock.Unlock()
    return append([]ConnectRequest(nil), m.connects...)
}

func (m *mockClient) HasQuit() bool {
    m.lock.Lock()
    defer m.lock.Unlock()
    return m.quit
}

// mockUserStore keeps users in memory, optionally failing every save.
type mockUserStore struct {
    lock sync.Mutex
    users []UserConfig
    saved []UserConfig
    failSave bool
}

func (m *mockUserStore) Load() ([]UserConfig, error) {
    return m.users, nil
}

func (m *mockUserStore) Save(conf UserConfig) error {
    m.lock.Lock()
    defer m.lock.Unlock()

    if m.failSave {
        return PersistenceFailed
    }
    m.saved = append(m.saved, conf)
    return nil
}

// mockResolver answers reverse lookups from a fixed table.
type mockResolver struct {
    names []string
    err error
    calls int32
}

func (m *mockResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
    atomic.AddInt32(&m.calls, 1)
    return m.names, m.err
}

func (m *mockResolver) Calls() int {
    return int(atomic.LoadInt32(&m.calls))
}

// mockStore resolves references from a fixed table.
type mockStore map[string]string

func (m mockStore) Resolve(ctx context.Context, reference string) (string, bool) {
    p, ok := m[reference]
    return p, ok
}
