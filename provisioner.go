package go_relay_i_guess

import (
    "context"
    "crypto/subtle"
    "log/slog"
)

// Names of the provisioning modes, as reported by `SessionProvisioner.Mode`.
const (
    ModeOpen = "open"
    ModeRestricted = "restricted"
)

// SessionProvisioner decides which session a connection binds to.
//
// There's one implementation per access mode, chosen once when the server
// is created.
type SessionProvisioner interface {
    // Mode retrieve the name of the access mode.
    Mode() string

    // RequiresCredentials report whether connections must authenticate
    // before being bound. Connections to provisioners that don't are
    // provisioned as soon as they're accepted.
    RequiresCredentials() bool

    // Provision select, or create, the session for `cred`. Fails with
    // `Unauthorized` if no session matches.
    Provision(ctx context.Context, cred Credential) (*Session, error)

    // Release undo whatever `Provision` did for the connection `c`, once it
    // disconnects. `c` may or may not have been bound to `s`.
    Release(s *Session, c *connection)
}

// openProvisioner grants a fresh session to every connection, ignoring
// credentials. Sessions live as long as their connection.
type openProvisioner struct {
    registry *Registry
    factory ClientFactory
    logger *slog.Logger
    metrics *Metrics
}

func (p *openProvisioner) Mode() string {
    return ModeOpen
}

func (p *openProvisioner) RequiresCredentials() bool {
    return false
}

// Provision create a new session and add it to the registry.
func (p *openProvisioner) Provision(ctx context.Context, cred Credential) (*Session, error) {
    s := newSession(UserConfig{}, nil, p.factory, p.logger)
    p.registry.Add(s)
    p.metrics.setSessions(p.registry.Len())

    p.logger.Debug("go_relay_i_guess/provisioner: Session created",
            "session", s.ID())

    return s, nil
}

// Release destroy the connection's session.
func (p *openProvisioner) Release(s *Session, c *connection) {
    s.detach(c)
    s.close()
    if p.registry.Remove(s) {
        p.metrics.setSessions(p.registry.Len())
        p.logger.Debug("go_relay_i_guess/provisioner: Session removed",
                "session", s.ID())
    }
}

// strategy is a single way of matching a credential to a session.
type strategy struct {
    name string

    // applies report whether the strategy may match anything at all,
    // given the credential and the principal resolved from its reference.
    applies func(cred Credential, principal string) bool

    // matches report whether `s` is the session for the credential.
    matches func(s *Session, cred Credential, principal string) bool
}

// restrictedProvisioner binds connections to one of the sessions loaded
// at start-up, if they present a matching credential.
type restrictedProvisioner struct {
    registry *Registry
    store SessionStore
    strategies []strategy
    logger *slog.Logger
    metrics *Metrics
}

func (p *restrictedProvisioner) Mode() string {
    return ModeRestricted
}

func (p *restrictedProvisioner) RequiresCredentials() bool {
    return true
}

// Provision scan the live sessions in registry order, trying every
// applicable strategy on each, and return the first match.
//
// The scan runs over a snapshot of the registry taken before any lookup.
// A session removed in the meanwhile may still be returned; binding to it
// then fails with `SessionClosed`.
func (p *restrictedProvisioner) Provision(ctx context.Context, cred Credential) (*Session, error) {
    if cred.IsEmpty() {
        return nil, Unauthorized
    }

    sessions := p.registry.All()

    var principal string
    if len(cred.Reference) > 0 && p.store != nil {
        principal, _ = p.store.Resolve(ctx, cred.Reference)
    }
    if ctx.Err() != nil {
        return nil, ConnEOF
    }

    var active []*strategy
    for i := range p.strategies {
        if p.strategies[i].applies(cred, principal) {
            active = append(active, &p.strategies[i])
        }
    }

    for _, s := range sessions {
        for _, st := range active {
            if st.matches(s, cred, principal) {
                p.logger.Debug("go_relay_i_guess/provisioner: Credential matched",
                        "session", s.ID(), "user", s.User(), "strategy", st.name)
                return s, nil
            }
        }
    }

    return nil, Unauthorized
}

// Release detach the connection from its session, which stays alive.
func (p *restrictedProvisioner) Release(s *Session, c *connection) {
    s.detach(c)
}

// newRestrictedProvisioner create a restrictedProvisioner whose strategies,
// in order, are: the stored-session reference, the bearer token and the
// username and password pair. The password is only tried if no token was
// given.
func newRestrictedProvisioner(registry *Registry, store SessionStore,
        hasher PasswordHasher, logger *slog.Logger,
        metrics *Metrics) *restrictedProvisioner {
    return &restrictedProvisioner {
        registry: registry,
        store: store,
        logger: logger,
        metrics: metrics,
        strategies: []strategy {
            {
                name: "stored-session",
                applies: func(cred Credential, principal string) bool {
                    return len(principal) > 0
                },
                matches: func(s *Session, cred Credential, principal string) bool {
                    return s.User() == principal
                },
            },
            {
                name: "token",
                applies: func(cred Credential, principal string) bool {
                    return len(cred.Token) > 0
                },
                matches: func(s *Session, cred Credential, principal string) bool {
                    token := s.Token()
                    return len(token) > 0 &&
                            subtle.ConstantTimeCompare([]byte(token), []byte(cred.Token)) == 1
                },
            },
            {
                name: "password",
                applies: func(cred Credential, principal string) bool {
                    return len(cred.Token) == 0 && len(cred.User) > 0
                },
                matches: func(s *Session, cred Credential, principal string) bool {
                    return s.User() == cred.User &&
                            s.verifyPassword(hasher, cred.Password)
                },
            },
        },
    }
}
