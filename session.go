package go_relay_i_guess

import (
    crand "crypto/rand"
    "encoding/hex"
    "encoding/json"
    "fmt"
    "log/slog"
    "sync"

    "github.com/google/uuid"
)

// UserConfig is the identity configuration of a session.
type UserConfig struct {
    // User is the principal's name. Unique among restricted sessions.
    User string `yaml:"user"`

    // Password is the hash of the user's password.
    Password string `yaml:"password"`

    // Token is an opaque, reusable credential handed to the user's
    // devices after they authenticate.
    Token string `yaml:"token,omitempty"`

    // IP and Hostname are a fixed network identity for upstream links
    // opened by this session. Sessions without an IP get one from the
    // first device that binds to them.
    IP string `yaml:"ip,omitempty"`
    Hostname string `yaml:"hostname,omitempty"`
}

// Snapshot of a session's state, sent to every newly bound connection.
type Snapshot struct {
    // Active identifies the currently active sub-context.
    Active interface{}

    // Networks is the session's collection of sub-contexts.
    Networks interface{}
}

// Client holds a session's domain state and carries out the operations
// requested by its connections.
type Client interface {
    Input(data json.RawMessage)
    More(data json.RawMessage)
    Connect(req ConnectRequest)
    Open(data json.RawMessage)
    Sort(data json.RawMessage)
    Names(data json.RawMessage)

    // Snapshot retrieve the state sent to newly bound connections.
    Snapshot() Snapshot

    // Quit release every resource held by the client.
    Quit()
}

// ClientFactory create the Client of a newly created session.
type ClientFactory func(s *Session) Client

// Session is a principal-bound entity, addressable by any number of
// connections at once.
type Session struct {
    // id uniquely identifies the session and names its broadcast group.
    id string

    // lock synchronizes access to config.
    lock sync.RWMutex

    config UserConfig

    // ip and hostname are learned from the first bound device. They're
    // never persisted.
    ip string
    hostname string

    client Client

    // users persists configuration updates. nil for ephemeral sessions.
    users UserStore

    // group of every connection bound to this session.
    group *group
}

// ID retrieve the session's unique identifier.
func (s *Session) ID() string {
    return s.id
}

// User retrieve the session's configured username.
func (s *Session) User() string {
    s.lock.RLock()
    defer s.lock.RUnlock()
    return s.config.User
}

// Token retrieve the session's reusable credential, if any.
func (s *Session) Token() string {
    s.lock.RLock()
    defer s.lock.RUnlock()
    return s.config.Token
}

// Config retrieve a copy of the session's configuration.
func (s *Session) Config() UserConfig {
    s.lock.RLock()
    defer s.lock.RUnlock()
    return s.config
}

// Client retrieve the session's domain state.
func (s *Session) Client() Client {
    return s.client
}

// NetworkIdentity retrieve the session's address and hostname.
//
// A configured address takes precedence, along with its configured
// hostname.
func (s *Session) NetworkIdentity() (string, string) {
    s.lock.RLock()
    defer s.lock.RUnlock()

    if len(s.config.IP) > 0 {
        return s.config.IP, s.config.Hostname
    }
    return s.ip, s.hostname
}

// hasNetworkIdentity check whether the session was configured with an
// address or already learned one.
func (s *Session) hasNetworkIdentity() bool {
    s.lock.RLock()
    defer s.lock.RUnlock()
    return len(s.config.IP) > 0 || len(s.hostname) > 0
}

// setNetworkIdentity attach `ip` and `hostname` to the session, unless it
// already has an identity.
func (s *Session) setNetworkIdentity(ip, hostname string) bool {
    s.lock.Lock()
    defer s.lock.Unlock()

    if len(s.config.IP) > 0 || len(s.hostname) > 0 {
        return false
    }
    s.ip = ip
    s.hostname = hostname
    return true
}

// verifyPassword check `secret` against the session's stored hash.
func (s *Session) verifyPassword(hasher PasswordHasher, secret string) bool {
    s.lock.RLock()
    hash := s.config.Password
    s.lock.RUnlock()

    return hasher.Verify(secret, hash)
}

// SetPassword replace the session's password hash by `hash`, rotating its
// token, and return the new token.
//
// The updated configuration is persisted first; if that fails, the
// session is left unchanged and `PersistenceFailed` is returned.
func (s *Session) SetPassword(hash string) (string, error) {
    token, err := GenerateToken()
    if err != nil {
        return "", err
    }

    s.lock.Lock()
    defer s.lock.Unlock()

    conf := s.config
    conf.Password = hash
    conf.Token = token

    if s.users != nil {
        err = s.users.Save(conf)
        if err != nil {
            return "", fmt.Errorf("%w: %v", PersistenceFailed, err)
        }
    }

    s.config = conf
    return token, nil
}

// Broadcast send the event `name` to every connection bound to the
// session.
func (s *Session) Broadcast(name string, data interface{}) error {
    msg, err := encodeEvent(name, data)
    if err != nil {
        return err
    }
    return s.group.broadcast(msg)
}

// Connections retrieve the number of connections bound to the session.
func (s *Session) Connections() int {
    return s.group.size()
}

// attach `c` to the session's connection set.
func (s *Session) attach(c *connection) error {
    return s.group.join(c)
}

// detach `c` from the session's connection set.
func (s *Session) detach(c *connection) bool {
    return s.group.leave(c)
}

// isClosed check whether the session was already destroyed.
func (s *Session) isClosed() bool {
    return s.group.isClosed()
}

// close the session's broadcast group and quit its client.
func (s *Session) close() {
    if s.group.shutdown() && s.client != nil {
        s.client.Quit()
    }
}

// newSession create a session configured by `conf`. Its client is created
// by `factory`, if any.
func newSession(conf UserConfig, users UserStore, factory ClientFactory,
        logger *slog.Logger) *Session {
    id := uuid.NewString()
    s := &Session {
        id: id,
        config: conf,
        users: users,
        group: newGroup(id, logger),
    }
    if factory != nil {
        s.client = factory(s)
    }

    return s
}

// GenerateToken create a random credential, encoded as a hexadecimal
// string.
func GenerateToken() (string, error) {
    var randToken [32]byte

    _, err := crand.Read(randToken[:])
    if err != nil {
        return "", err
    }

    return hex.EncodeToString(randToken[:]), nil
}
