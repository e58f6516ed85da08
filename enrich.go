package go_relay_i_guess

import (
    "context"
    "fmt"
    "log/slog"
    "strings"
    "time"
)

// Default bound on a reverse lookup.
const defResolveTimeout = time.Second * 5

// Resolver performs reverse address resolution. `*net.Resolver` satisfies
// this interface.
type Resolver interface {
    LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Enricher derives a hostname from a network address.
type Enricher struct {
    resolver Resolver
    timeout time.Duration
    logger *slog.Logger
    metrics *Metrics
}

// newEnricher create an Enricher over `resolver`. A non-positive `timeout`
// uses the default one.
func newEnricher(resolver Resolver, timeout time.Duration,
        logger *slog.Logger, metrics *Metrics) *Enricher {
    if timeout <= 0 {
        timeout = defResolveTimeout
    }
    return &Enricher {
        resolver: resolver,
        timeout: timeout,
        logger: logger,
        metrics: metrics,
    }
}

// Enrich reverse-resolve `addr`, returning the first name found. On error,
// or if nothing was found, `addr` itself is returned. This always returns.
func (e *Enricher) Enrich(ctx context.Context, addr string) string {
    if e.resolver == nil || len(addr) == 0 {
        return addr
    }

    name, err := e.lookup(ctx, addr)
    if err != nil {
        e.logger.Debug("go_relay_i_guess/enrich: Falling back to the raw address",
                "addr", addr, "error", err)
        e.metrics.recordEnrichment(false)
        return addr
    }

    e.metrics.recordEnrichment(true)
    return name
}

// lookup the first name of `addr`, failing with `ResolutionFailed`.
func (e *Enricher) lookup(ctx context.Context, addr string) (string, error) {
    ctx, cancel := context.WithTimeout(ctx, e.timeout)
    defer cancel()

    names, err := e.resolver.LookupAddr(ctx, addr)
    if err != nil {
        return "", fmt.Errorf("%w: %v", ResolutionFailed, err)
    } else if len(names) == 0 || len(names[0]) == 0 {
        return "", ResolutionFailed
    }

    return strings.TrimSuffix(names[0], "."), nil
}

// enrichSession attach `addr` and its hostname to `s`, unless `s` was
// configured with an address or already learned one. If `ctx` gets cancelled during the lookup, the session is left
// untouched.
func (e *Enricher) enrichSession(ctx context.Context, s *Session, addr string) {
    if s.hasNetworkIdentity() {
        return
    }

    hostname := e.Enrich(ctx, addr)
    if ctx.Err() != nil {
        return
    }

    s.setNetworkIdentity(addr, hostname)
}
