package go_relay_i_guess

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "log/slog"
    "time"

    "github.com/redis/go-redis/v9"
)

// DefaultSessionPrefix is prepended to a session reference to build the
// key of its record.
const DefaultSessionPrefix = "session:"

// Default bound on a single store lookup.
const defStoreTimeout = time.Second * 2

// SessionStore translates an externally issued session reference into the
// principal it was issued for.
type SessionStore interface {
    // Resolve look up `reference`. Any failure, be it a missing record, a
    // malformed one or an unreachable store, is reported as `ok == false`.
    Resolve(ctx context.Context, reference string) (principal string, ok bool)
}

// sessionRecord is the JSON document stored for each reference.
type sessionRecord struct {
    Username string `json:"username"`
}

// RedisSessionStore resolves references from Redis.
//
// A client is created for every lookup and closed before returning, so no
// connection is held between lookups.
type RedisSessionStore struct {
    // Options used to dial Redis on each lookup.
    Options *redis.Options

    // Prefix of the record keys. Defaults to DefaultSessionPrefix.
    Prefix string

    // Timeout bounds a single lookup. Defaults to two seconds.
    Timeout time.Duration

    // Logger for lookup failures. May be nil.
    Logger *slog.Logger
}

// NewRedisSessionStore create a store dialing `opts` on every lookup.
func NewRedisSessionStore(opts *redis.Options, logger *slog.Logger) *RedisSessionStore {
    return &RedisSessionStore {
        Options: opts,
        Prefix: DefaultSessionPrefix,
        Timeout: defStoreTimeout,
        Logger: logger,
    }
}

// Resolve look up the principal associated with `reference`.
func (s *RedisSessionStore) Resolve(ctx context.Context, reference string) (string, bool) {
    if len(reference) == 0 || s.Options == nil {
        return "", false
    }

    principal, err := s.lookup(ctx, reference)
    if err != nil {
        s.logger().Debug("go_relay_i_guess/store: Lookup failed",
                "error", err)
        return "", false
    }
    return principal, len(principal) > 0
}

// lookup fetch and decode the record of `reference`. A missing record
// isn't an error; every other failure is a `StoreUnavailable`.
func (s *RedisSessionStore) lookup(ctx context.Context, reference string) (string, error) {
    timeout := s.Timeout
    if timeout <= 0 {
        timeout = defStoreTimeout
    }
    ctx, cancel := context.WithTimeout(ctx, timeout)
    defer cancel()

    client := redis.NewClient(s.Options)
    defer client.Close()

    prefix := s.Prefix
    if len(prefix) == 0 {
        prefix = DefaultSessionPrefix
    }

    res, err := client.Get(ctx, prefix + reference).Result()
    if err == redis.Nil {
        return "", nil
    } else if err != nil {
        return "", fmt.Errorf("%w: %v", StoreUnavailable, err)
    }

    var rec sessionRecord
    err = json.Unmarshal([]byte(res), &rec)
    if err != nil {
        return "", fmt.Errorf("%w: malformed record: %v", StoreUnavailable, err)
    }

    return rec.Username, nil
}

func (s *RedisSessionStore) logger() *slog.Logger {
    if s.Logger == nil {
        return discardLogger
    }
    return s.Logger
}

// discardLogger is used wherever no logger was configured.
var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
