package go_relay_i_guess

import (
    "encoding/json"
    "fmt"
    "io"
    "log/slog"
    "net"
    "sync"
    "sync/atomic"
    "time"
)

// ServerConf configures a relay server. Use `GetDefaultServerConf` as the
// starting point.
type ServerConf struct {
    // OpenAccess grants every connection its own, fresh, session without
    // asking for credentials. Otherwise, connections must authenticate
    // against the sessions loaded from `Users`.
    OpenAccess bool

    // EnrichmentRequired resolves the client's hostname before binding a
    // connection to a session that doesn't have one yet.
    EnrichmentRequired bool

    // ReverseProxyTrusted is read by the transports, which decide what the
    // client's address is before handing connections to the server.
    ReverseProxyTrusted bool

    // Hasher verifies and computes password hashes.
    Hasher PasswordHasher

    // Store resolves stored-session references. May be nil, in which case
    // references never match.
    Store SessionStore

    // Resolver used for reverse address lookups.
    Resolver Resolver

    // ResolveTimeout bounds each reverse lookup.
    ResolveTimeout time.Duration

    // Users holds the restricted sessions' configuration.
    Users UserStore

    // NewClient creates the domain state of every new session.
    NewClient ClientFactory

    // Logger used by the server to report events. If this is nil, no
    // message shall be logged!
    Logger *slog.Logger

    // Metrics records the server's activity. May be nil.
    Metrics *Metrics
}

// GetDefaultServerConf retrieve the default configuration: restricted
// access, bcrypt passwords and the system's resolver.
func GetDefaultServerConf() ServerConf {
    return ServerConf {
        Hasher: BcryptHasher{},
        Resolver: net.DefaultResolver,
        ResolveTimeout: defResolveTimeout,
    }
}

// The public interface of the relay server.
type RelayServer interface {
    io.Closer

    // GetConf retrieve the server's configuration.
    GetConf() ServerConf

    // Mode retrieve the name of the server's access mode.
    Mode() string

    // Sessions retrieve every live session, in registry order.
    Sessions() []*Session

    // Connect hand `conn` to the server, which handles it on a new
    // goroutine.
    //
    // On error, `conn` is left unchanged and must be closed by the caller.
    Connect(conn Conn) error

    // ConnectAndWait hand `conn` to the server and block until it gets
    // closed.
    //
    // On error, `conn` is left unchanged and must be closed by the caller.
    //
    // Differently from `Connect`, this function handles messages from the
    // remote client in the calling goroutine. This may be advantageous if
    // the external server already spawns a new goroutine to handle each
    // new connection.
    ConnectAndWait(conn Conn) error
}

// The relay server.
type server struct {
    conf ServerConf

    registry *Registry

    provisioner SessionProvisioner

    enricher *Enricher

    logger *slog.Logger

    metrics *Metrics

    // Every connection currently handled by the server.
    conns map[*connection]struct{}

    // Synchronizes access to conns.
    lockConns sync.Mutex

    // Whether the server is currently running.
    running uint32
}

// GetConf retrieve the server's configuration.
func (s *server) GetConf() ServerConf {
    return s.conf
}

// Mode retrieve the name of the server's access mode.
func (s *server) Mode() string {
    return s.provisioner.Mode()
}

// Sessions retrieve every live session.
func (s *server) Sessions() []*Session {
    return s.registry.All()
}

// track create a connection for `conn` and start tracking it.
func (s *server) track(conn Conn) (*connection, error) {
    if conn == nil {
        panic("go_relay_i_guess/server: nil conn")
    }

    s.lockConns.Lock()
    defer s.lockConns.Unlock()

    if atomic.LoadUint32(&s.running) == 0 {
        return nil, ConnEOF
    }

    c := newConnection(s, conn)
    s.conns[c] = struct{}{}

    s.logger.Debug("go_relay_i_guess/server: Connection accepted",
            "conn", c.id, "addr", c.addr)

    return c, nil
}

// forget stop tracking `c`.
func (s *server) forget(c *connection) {
    s.lockConns.Lock()
    delete(s.conns, c)
    s.lockConns.Unlock()
}

// Connect hand `conn` to the server, handling it on a new goroutine.
func (s *server) Connect(conn Conn) error {
    c, err := s.track(conn)
    if err != nil {
        return err
    }

    go c.runAndWait()
    return nil
}

// ConnectAndWait hand `conn` to the server and block until it gets closed.
func (s *server) ConnectAndWait(conn Conn) error {
    c, err := s.track(conn)
    if err != nil {
        return err
    }

    c.runAndWait()
    return nil
}

// Close every connection and destroy every session.
func (s *server) Close() error {
    if !atomic.CompareAndSwapUint32(&s.running, 1, 0) {
        return nil
    }

    s.lockConns.Lock()
    for c := range s.conns {
        c.Close()
    }
    s.lockConns.Unlock()

    for _, sess := range s.registry.All() {
        s.registry.Remove(sess)
        sess.close()
    }
    s.metrics.setSessions(0)

    s.logger.Info("go_relay_i_guess/server: Server closed")
    return nil
}

// loadUsers create a session for every configured user.
func (s *server) loadUsers() error {
    if s.conf.Users == nil {
        s.logger.Warn("go_relay_i_guess/server: No user store configured; nobody will be able to authenticate")
        return nil
    }

    users, err := s.conf.Users.Load()
    if err != nil {
        return fmt.Errorf("failed to load users: %w", err)
    }

    seen := make(map[string]bool)
    for _, u := range users {
        if seen[u.User] {
            s.logger.Warn("go_relay_i_guess/server: Duplicated user; only the first one may be authenticated with a password",
                    "user", u.User)
        }
        seen[u.User] = true

        s.registry.Add(newSession(u, s.conf.Users, s.conf.NewClient, s.logger))
        s.logger.Debug("go_relay_i_guess/server: User loaded", "user", u.User)
    }
    s.metrics.setSessions(s.registry.Len())

    return nil
}

// NewServerConf create a new relay server configured by `conf`.
//
// In restricted mode, every user is loaded from `conf.Users` right away,
// and the set of sessions stays fixed until the server is closed.
func NewServerConf(conf ServerConf) (RelayServer, error) {
    if conf.Hasher == nil {
        conf.Hasher = BcryptHasher{}
    }
    if conf.NewClient == nil {
        conf.NewClient = newNopClient
    }

    logger := conf.Logger
    if logger == nil {
        logger = discardLogger
    }

    s := &server {
        conf: conf,
        registry: NewRegistry(),
        logger: logger,
        metrics: conf.Metrics,
        conns: make(map[*connection]struct{}),
        running: 1,
    }
    s.enricher = newEnricher(conf.Resolver, conf.ResolveTimeout, logger,
            conf.Metrics)

    if conf.OpenAccess {
        s.provisioner = &openProvisioner {
            registry: s.registry,
            factory: conf.NewClient,
            logger: logger,
            metrics: conf.Metrics,
        }
    } else {
        s.provisioner = newRestrictedProvisioner(s.registry, conf.Store,
                conf.Hasher, logger, conf.Metrics)

        err := s.loadUsers()
        if err != nil {
            return nil, err
        }
    }

    logger.Info("go_relay_i_guess/server: Relay server created",
            "mode", s.provisioner.Mode(),
            "enrichment", conf.EnrichmentRequired,
            "sessions", s.registry.Len())

    return s, nil
}

// nopClient is the domain state of sessions created without a
// ClientFactory. It ignores every request.
type nopClient struct{}

func newNopClient(*Session) Client {
    return nopClient{}
}

func (nopClient) Input(json.RawMessage) {}
func (nopClient) More(json.RawMessage) {}
func (nopClient) Connect(ConnectRequest) {}
func (nopClient) Open(json.RawMessage) {}
func (nopClient) Sort(json.RawMessage) {}
func (nopClient) Names(json.RawMessage) {}
func (nopClient) Quit() {}

func (nopClient) Snapshot() Snapshot {
    return Snapshot {
        Active: -1,
        Networks: []interface{}{},
    }
}
