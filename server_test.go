package go_relay_i_guess

import (
    "context"
    "encoding/json"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "golang.org/x/crypto/bcrypt"
)

// How long tests wait for the server to reply.
const testTimeout = time.Second

// How long tests wait to be sure the server did not reply.
const silenceTimeout = time.Millisecond * 100

// clientSet creates a mockClient for every session and keeps track of
// them.
type clientSet struct {
    lock sync.Mutex
    bySession map[string]*mockClient
}

func newClientSet() *clientSet {
    return &clientSet {
        bySession: make(map[string]*mockClient),
    }
}

func (cs *clientSet) factory(s *Session) Client {
    c := &mockClient{session: s}

    cs.lock.Lock()
    cs.bySession[s.ID()] = c
    cs.lock.Unlock()

    return c
}

func (cs *clientSet) get(s *Session) *mockClient {
    cs.lock.Lock()
    defer cs.lock.Unlock()
    return cs.bySession[s.ID()]
}

func testHasher() BcryptHasher {
    return BcryptHasher{Cost: bcrypt.MinCost}
}

func mustHash(t *testing.T, secret string) string {
    t.Helper()

    hash, err := testHasher().Hash(secret)
    require.NoError(t, err)
    return hash
}

// newTestServer create a server over `conf`, using a cheap hasher and
// recording every session's client.
func newTestServer(t *testing.T, conf ServerConf) (*server, *clientSet) {
    t.Helper()

    clients := newClientSet()
    conf.Hasher = testHasher()
    conf.NewClient = clients.factory

    rs, err := NewServerConf(conf)
    require.NoError(t, err)
    t.Cleanup(func() {
        rs.Close()
    })

    return rs.(*server), clients
}

// newAliceAndBob create a restricted server with two users: alice (token
// T1, password "alice-secret") and bob (token T2, password "bob-secret").
func newAliceAndBob(t *testing.T, conf ServerConf) (*server, *clientSet, *mockUserStore) {
    t.Helper()

    users := &mockUserStore {
        users: []UserConfig {
            {User: "alice", Password: mustHash(t, "alice-secret"), Token: "T1"},
            {User: "bob", Password: mustHash(t, "bob-secret"), Token: "T2"},
        },
    }
    conf.Users = users

    s, clients := newTestServer(t, conf)
    return s, clients, users
}

// sessionOf retrieve the live session of `user`.
func sessionOf(t *testing.T, s *server, user string) *Session {
    t.Helper()

    for _, sess := range s.Sessions() {
        if sess.User() == user {
            return sess
        }
    }
    t.Fatalf("No session for user '%s'", user)
    return nil
}

// expectEvent wait for the event `name` and decode its payload into `v`.
func expectEvent(t *testing.T, c *mockConn, name string, v interface{}) {
    t.Helper()

    got, data, err := c.TestRecv(testTimeout)
    require.NoError(t, err, "waiting for '%s'", name)
    require.Equal(t, name, got)
    if v != nil {
        require.NoError(t, json.Unmarshal(data, v))
    }
}

// expectSilence check that the server doesn't send anything for a while.
func expectSilence(t *testing.T, c *mockConn) {
    t.Helper()

    name, _, err := c.TestRecv(silenceTimeout)
    require.Equal(t, TestTimeout, err, "unexpected event '%s'", name)
}

// connectRestricted connect a new client and consume the sign-in prompt.
func connectRestricted(t *testing.T, s *server, addr string) *mockConn {
    t.Helper()

    c := newMockConn(addr)
    require.NoError(t, s.Connect(c))

    var prompt authReply
    expectEvent(t, c, EventAuth, &prompt)
    require.True(t, prompt.Success)

    return c
}

type initPayload struct {
    Active int `json:"active"`
    Networks []string `json:"networks"`
    Token *string `json:"token"`
}

// TestRestrictedTokenAndWrongPassword check that a token binds to its
// session only, and that a wrong password leaves the connection unbound.
func TestRestrictedTokenAndWrongPassword(t *testing.T) {
    s, clients, _ := newAliceAndBob(t, GetDefaultServerConf())
    alice := sessionOf(t, s, "alice")
    bob := sessionOf(t, s, "bob")

    c1 := connectRestricted(t, s, "10.0.0.1")
    require.NoError(t, c1.TestSend(EventAuth, map[string]string{"token": "T2"}))

    var snap initPayload
    expectEvent(t, c1, EventInit, &snap)
    assert.Equal(t, 3, snap.Active)
    assert.Equal(t, []string{"freenode"}, snap.Networks)
    require.NotNil(t, snap.Token)
    assert.Equal(t, "T2", *snap.Token)
    assert.Equal(t, 1, bob.Connections())
    assert.Equal(t, 0, alice.Connections())

    c2 := connectRestricted(t, s, "10.0.0.2")
    require.NoError(t, c2.TestSend(EventAuth, map[string]string {
        "user": "alice",
        "password": "wrong",
    }))

    var reply authReply
    expectEvent(t, c2, EventAuth, &reply)
    assert.False(t, reply.Success)

    // Nothing but `auth` is handled until the connection gets bound.
    require.NoError(t, c2.TestSend(EventInput, map[string]string{"text": "hi"}))
    require.NoError(t, c2.TestSend(EventAuth, map[string]string {
        "user": "alice",
        "password": "alice-secret",
    }))
    expectEvent(t, c2, EventInit, &snap)

    assert.Empty(t, clients.get(alice).Calls())
    assert.Equal(t, 1, alice.Connections())
    expectSilence(t, c1)
}

// TestRestrictedForwardsEvents check that every event of a bound
// connection reaches its session, in order.
func TestRestrictedForwardsEvents(t *testing.T) {
    s, clients, _ := newAliceAndBob(t, GetDefaultServerConf())
    alice := sessionOf(t, s, "alice")

    c := connectRestricted(t, s, "10.0.0.1")
    require.NoError(t, c.TestSend(EventAuth, map[string]string{"token": "T1"}))
    expectEvent(t, c, EventInit, nil)

    for _, name := range []string{EventInput, EventMore, EventOpen, EventSort, EventNames, "unknown"} {
        require.NoError(t, c.TestSend(name, map[string]int{"target": 1}))
    }

    client := clients.get(alice)
    require.Eventually(t, func() bool {
        return len(client.Calls()) == 5
    }, testTimeout, time.Millisecond * 5)
    assert.Equal(t, []string{EventInput, EventMore, EventOpen, EventSort, EventNames}, client.Calls())
    assert.JSONEq(t, `{"target":1}`, string(client.payloads[0]))
}

// TestConnOverridesOrigin check that `conn` requests always carry the
// session's network identity.
func TestConnOverridesOrigin(t *testing.T) {
    resolver := &mockResolver{names: []string{"host.example.org."}}
    conf := GetDefaultServerConf()
    conf.EnrichmentRequired = true
    conf.Resolver = resolver

    s, clients, _ := newAliceAndBob(t, conf)
    alice := sessionOf(t, s, "alice")

    c := connectRestricted(t, s, "10.0.0.1")
    require.NoError(t, c.TestSend(EventAuth, map[string]string{"token": "T1"}))
    expectEvent(t, c, EventInit, nil)

    for _, payload := range []map[string]interface{} {
        {"host": "irc.example.org", "ip": "6.6.6.6", "hostname": "spoofed.example.org"},
        {"host": "irc.example.org", "ip": nil},
        {"host": "irc.example.org"},
    } {
        require.NoError(t, c.TestSend(EventConn, payload))
    }

    client := clients.get(alice)
    require.Eventually(t, func() bool {
        return len(client.Connects()) == 3
    }, testTimeout, time.Millisecond * 5)

    for _, req := range client.Connects() {
        assert.Equal(t, "10.0.0.1", req.IP())
        assert.Equal(t, "host.example.org", req.Hostname())
        assert.Equal(t, "irc.example.org", req["host"])
    }
    assert.Equal(t, 1, resolver.Calls())
}

// TestConnConfiguredIdentity check that a session configured with an
// address keeps it, along with its configured hostname, on every device.
func TestConnConfiguredIdentity(t *testing.T) {
    resolver := &mockResolver{names: []string{"device.example.org."}}
    conf := GetDefaultServerConf()
    conf.EnrichmentRequired = true
    conf.Resolver = resolver
    conf.Users = &mockUserStore {
        users: []UserConfig {
            {User: "carol", Password: mustHash(t, "carol-secret"), Token: "T3",
                    IP: "192.0.2.1"},
        },
    }

    s, clients := newTestServer(t, conf)
    carol := sessionOf(t, s, "carol")

    c := connectRestricted(t, s, "10.0.0.1")
    require.NoError(t, c.TestSend(EventAuth, map[string]string{"token": "T3"}))
    expectEvent(t, c, EventInit, nil)
    require.NoError(t, c.TestSend(EventConn, map[string]string{"host": "irc.example.org"}))

    client := clients.get(carol)
    require.Eventually(t, func() bool {
        return len(client.Connects()) == 1
    }, testTimeout, time.Millisecond * 5)

    req := client.Connects()[0]
    assert.Equal(t, "192.0.2.1", req.IP())
    assert.Empty(t, req.Hostname())
    assert.Equal(t, 0, resolver.Calls())
}

// TestConnWithoutEnrichment check that, without a network identity, the
// origin fields are cleared.
func TestConnWithoutEnrichment(t *testing.T) {
    s, clients, _ := newAliceAndBob(t, GetDefaultServerConf())
    alice := sessionOf(t, s, "alice")

    c := connectRestricted(t, s, "10.0.0.1")
    require.NoError(t, c.TestSend(EventAuth, map[string]string{"token": "T1"}))
    expectEvent(t, c, EventInit, nil)
    require.NoError(t, c.TestSend(EventConn, map[string]string{"ip": "6.6.6.6", "hostname": "spoofed"}))

    client := clients.get(alice)
    require.Eventually(t, func() bool {
        return len(client.Connects()) == 1
    }, testTimeout, time.Millisecond * 5)

    req := client.Connects()[0]
    assert.Contains(t, req, "ip")
    assert.Nil(t, req["ip"])
    assert.Nil(t, req["hostname"])
}

// TestEnrichmentRunsOnce check that a session is only enriched by its
// first connection.
func TestEnrichmentRunsOnce(t *testing.T) {
    resolver := &mockResolver{err: context.DeadlineExceeded}
    conf := GetDefaultServerConf()
    conf.EnrichmentRequired = true
    conf.Resolver = resolver

    s, _, _ := newAliceAndBob(t, conf)
    alice := sessionOf(t, s, "alice")

    for _, addr := range []string{"10.0.0.1", "10.0.0.2"} {
        c := connectRestricted(t, s, addr)
        require.NoError(t, c.TestSend(EventAuth, map[string]string{"token": "T1"}))
        expectEvent(t, c, EventInit, nil)
    }

    ip, hostname := alice.NetworkIdentity()
    assert.Equal(t, "10.0.0.1", ip)
    assert.Equal(t, "10.0.0.1", hostname)
    assert.Equal(t, 1, resolver.Calls())
    assert.Equal(t, 2, alice.Connections())
}

// TestChangePassword check every outcome of a password change.
func TestChangePassword(t *testing.T) {
    ptr := func(s string) *string {
        return &s
    }

    for _, tc := range []struct {
        name string
        req changePasswordRequest
        failSave bool
        wantErr string
    } {
        {
            name: "missing new password",
            req: changePasswordRequest{OldPassword: ptr("alice-secret")},
            wantErr: MsgEmptyPassword,
        },
        {
            name: "empty new password",
            req: changePasswordRequest{OldPassword: ptr("wrong"), NewPassword: ptr(""), VerifyPassword: ptr("x")},
            wantErr: MsgEmptyPassword,
        },
        {
            name: "mismatch",
            req: changePasswordRequest{OldPassword: ptr("wrong"), NewPassword: ptr("new-secret"), VerifyPassword: ptr("new-secreT")},
            wantErr: MsgPasswordMismatch,
        },
        {
            name: "missing verification",
            req: changePasswordRequest{OldPassword: ptr("alice-secret"), NewPassword: ptr("new-secret")},
            wantErr: MsgPasswordMismatch,
        },
        {
            name: "wrong current password",
            req: changePasswordRequest{OldPassword: ptr("wrong"), NewPassword: ptr("new-secret"), VerifyPassword: ptr("new-secret")},
            wantErr: MsgWrongPassword,
        },
        {
            name: "persistence failure",
            req: changePasswordRequest{OldPassword: ptr("alice-secret"), NewPassword: ptr("new-secret"), VerifyPassword: ptr("new-secret")},
            failSave: true,
            wantErr: MsgPasswordFailed,
        },
        {
            name: "success",
            req: changePasswordRequest{OldPassword: ptr("alice-secret"), NewPassword: ptr("new-secret"), VerifyPassword: ptr("new-secret")},
        },
    } {
        t.Run(tc.name, func(t *testing.T) {
            s, _, users := newAliceAndBob(t, GetDefaultServerConf())
            users.failSave = tc.failSave
            alice := sessionOf(t, s, "alice")
            before := alice.Config()

            c := connectRestricted(t, s, "10.0.0.1")
            require.NoError(t, c.TestSend(EventAuth, map[string]string{"token": "T1"}))
            expectEvent(t, c, EventInit, nil)

            require.NoError(t, c.TestSend(EventChangePassword, &tc.req))

            var reply changePasswordReply
            expectEvent(t, c, EventChangePassword, &reply)
            expectSilence(t, c)

            after := alice.Config()
            if len(tc.wantErr) > 0 {
                assert.Equal(t, tc.wantErr, reply.Error)
                assert.Empty(t, reply.Success)
                assert.Equal(t, before, after)
                assert.Empty(t, users.saved)
                return
            }

            assert.Empty(t, reply.Error)
            assert.Equal(t, MsgPasswordUpdated, reply.Success)
            assert.NotEmpty(t, reply.Token)
            assert.NotEqual(t, "T1", reply.Token)
            assert.Equal(t, reply.Token, after.Token)
            assert.True(t, testHasher().Verify("new-secret", after.Password))
            assert.False(t, testHasher().Verify("alice-secret", after.Password))
            require.Len(t, users.saved, 1)
            assert.Equal(t, after, users.saved[0])
        })
    }
}

// TestOpenAccessSessions check that every connection gets its own session,
// destroyed along with the connection.
func TestOpenAccessSessions(t *testing.T) {
    conf := GetDefaultServerConf()
    conf.OpenAccess = true
    s, clients := newTestServer(t, conf)

    c1 := newMockConn("10.0.0.1")
    require.NoError(t, s.Connect(c1))
    var snap initPayload
    expectEvent(t, c1, EventInit, &snap)
    assert.Nil(t, snap.Token)

    c2 := newMockConn("10.0.0.2")
    require.NoError(t, s.Connect(c2))
    expectEvent(t, c2, EventInit, nil)

    sessions := s.Sessions()
    require.Len(t, sessions, 2)
    require.NotEqual(t, sessions[0].ID(), sessions[1].ID())
    first, second := sessions[0], sessions[1]

    c1.Close()
    require.Eventually(t, func() bool {
        return s.registry.Len() == 1
    }, testTimeout, time.Millisecond * 5)

    assert.Equal(t, []*Session{second}, s.Sessions())
    assert.True(t, clients.get(first).HasQuit())
    assert.False(t, clients.get(second).HasQuit())
    assert.Equal(t, 1, second.Connections())
    assert.Equal(t, 0, first.Connections())
}

// TestOpenAccessIgnoresCredentials check that open-access connections
// aren't prompted and can't change passwords.
func TestOpenAccessIgnoresCredentials(t *testing.T) {
    conf := GetDefaultServerConf()
    conf.OpenAccess = true
    s, _ := newTestServer(t, conf)

    c := newMockConn("10.0.0.1")
    require.NoError(t, s.Connect(c))
    expectEvent(t, c, EventInit, nil)

    require.NoError(t, c.TestSend(EventAuth, map[string]string{"token": "T1"}))
    require.NoError(t, c.TestSend(EventChangePassword, map[string]string {
        "old_password": "",
        "new_password": "a",
        "verify_password": "a",
    }))
    expectSilence(t, c)
    assert.Equal(t, 1, s.registry.Len())
}

// TestStoredSessionReference check that a reference presented by the
// transport binds without an explicit `auth`.
func TestStoredSessionReference(t *testing.T) {
    conf := GetDefaultServerConf()
    conf.Store = mockStore{"ref-bob": "bob"}
    s, _, _ := newAliceAndBob(t, conf)
    bob := sessionOf(t, s, "bob")

    c := newMockConn("10.0.0.1")
    c.reference = "ref-bob"
    require.NoError(t, s.Connect(mockReferrerConn{c}))

    expectEvent(t, c, EventAuth, nil)
    var snap initPayload
    expectEvent(t, c, EventInit, &snap)
    assert.Equal(t, "T2", *snap.Token)
    assert.Equal(t, 1, bob.Connections())

    // An unknown reference fails silently, and other strategies still
    // work afterwards.
    c = newMockConn("10.0.0.2")
    c.reference = "ref-unknown"
    require.NoError(t, s.Connect(mockReferrerConn{c}))
    expectEvent(t, c, EventAuth, nil)
    expectSilence(t, c)

    require.NoError(t, c.TestSend(EventAuth, map[string]string{"token": "T1"}))
    expectEvent(t, c, EventInit, &snap)
    assert.Equal(t, "T1", *snap.Token)
}

// TestBroadcastReachesEveryDevice check that a session's events reach
// every connection bound to it, and only those.
func TestBroadcastReachesEveryDevice(t *testing.T) {
    s, _, _ := newAliceAndBob(t, GetDefaultServerConf())
    alice := sessionOf(t, s, "alice")

    var conns []*mockConn
    for _, token := range []string{"T1", "T1", "T2"} {
        c := connectRestricted(t, s, "10.0.0.1")
        require.NoError(t, c.TestSend(EventAuth, map[string]string{"token": token}))
        expectEvent(t, c, EventInit, nil)
        conns = append(conns, c)
    }

    require.NoError(t, alice.Broadcast("msg", map[string]string{"text": "hello"}))
    for _, c := range conns[:2] {
        var msg map[string]string
        expectEvent(t, c, "msg", &msg)
        assert.Equal(t, "hello", msg["text"])
    }
    expectSilence(t, conns[2])

    // Disconnecting a device leaves the others bound.
    conns[0].Close()
    require.Eventually(t, func() bool {
        return alice.Connections() == 1
    }, testTimeout, time.Millisecond * 5)
    assert.Equal(t, 2, s.registry.Len())
}

// blockingResolver never answers before its context is done.
type blockingResolver struct {
    started chan struct{}
}

func (b *blockingResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
    close(b.started)
    <-ctx.Done()
    return nil, ctx.Err()
}

// TestDisconnectDuringEnrichment check that a connection closed while its
// hostname is being resolved is cleaned up, whatever the mode.
func TestDisconnectDuringEnrichment(t *testing.T) {
    t.Run("open", func(t *testing.T) {
        resolver := &blockingResolver{started: make(chan struct{})}
        conf := GetDefaultServerConf()
        conf.OpenAccess = true
        conf.EnrichmentRequired = true
        conf.Resolver = resolver
        conf.ResolveTimeout = time.Minute
        s, _ := newTestServer(t, conf)

        c := newMockConn("10.0.0.1")
        require.NoError(t, s.Connect(c))
        <-resolver.started
        require.Equal(t, 1, s.registry.Len())

        c.Close()
        require.Eventually(t, func() bool {
            return s.registry.Len() == 0
        }, testTimeout, time.Millisecond * 5)
        expectSilence(t, c)
    })

    t.Run("restricted", func(t *testing.T) {
        resolver := &blockingResolver{started: make(chan struct{})}
        conf := GetDefaultServerConf()
        conf.EnrichmentRequired = true
        conf.Resolver = resolver
        conf.ResolveTimeout = time.Minute
        s, _, _ := newAliceAndBob(t, conf)
        alice := sessionOf(t, s, "alice")

        c := connectRestricted(t, s, "10.0.0.1")
        require.NoError(t, c.TestSend(EventAuth, map[string]string{"token": "T1"}))
        <-resolver.started

        c.Close()
        require.Eventually(t, func() bool {
            s.lockConns.Lock()
            defer s.lockConns.Unlock()
            return len(s.conns) == 0
        }, testTimeout, time.Millisecond * 5)

        assert.Equal(t, 0, alice.Connections())
        assert.Equal(t, 2, s.registry.Len())
        _, hostname := alice.NetworkIdentity()
        assert.Empty(t, hostname)
    })
}

// TestBindFailsCleanly check that binding to a destroyed session, or
// binding twice, reports an error without panicking.
func TestBindFailsCleanly(t *testing.T) {
    s, _, _ := newAliceAndBob(t, GetDefaultServerConf())
    alice := sessionOf(t, s, "alice")
    bob := sessionOf(t, s, "bob")

    c := newConnection(s, newMockConn("10.0.0.1"))

    s.registry.Remove(alice)
    alice.close()
    assert.Equal(t, SessionClosed, c.bind(alice))
    assert.False(t, c.isBound())
    assert.Nil(t, c.handlers)

    require.NoError(t, c.bind(bob))
    assert.True(t, c.isBound())
    assert.Equal(t, AlreadyBound, c.bind(bob))
    assert.Equal(t, 1, bob.Connections())

    c.close()
    assert.Equal(t, 0, bob.Connections())
    assert.Equal(t, ConnEOF, c.bind(bob))
}

// TestServerClose check that a closed server closes its connections and
// refuses new ones.
func TestServerClose(t *testing.T) {
    s, _, _ := newAliceAndBob(t, GetDefaultServerConf())

    c := connectRestricted(t, s, "10.0.0.1")
    require.NoError(t, s.Close())

    require.Eventually(t, c.isClosed, testTimeout, time.Millisecond * 5)
    assert.Empty(t, s.Sessions())
    assert.Equal(t, ConnEOF, s.Connect(newMockConn("10.0.0.2")))
}
