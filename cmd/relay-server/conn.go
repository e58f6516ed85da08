package main

import (
    "log/slog"
    "net/http"

    relay "github.com/SirGFM/go-relay-i-guess"
    gobwas_conn "github.com/SirGFM/go-relay-i-guess/gobwas-ws-conn"
    gorilla_conn "github.com/SirGFM/go-relay-i-guess/gorilla-ws-conn"
    gows "github.com/gorilla/websocket"
)

// connFactory upgrade a HTTP connection to a relay connection.
type connFactory func(w http.ResponseWriter, req *http.Request) (relay.Conn, error)

func ignoreOrigin(r *http.Request) bool {
    return true
}

// newConnFactory select the transport configured by `cfg`.
func newConnFactory(cfg *Config, logger *slog.Logger) connFactory {
    if cfg.Transport == "gobwas" {
        opts := gobwas_conn.Options {
            Timeout: cfg.IdleTimeout,
            TrustProxy: cfg.ReverseProxy,
            Logger: logger,
        }

        return func(w http.ResponseWriter, req *http.Request) (relay.Conn, error) {
            return gobwas_conn.NewConn(opts, w, req)
        }
    }

    upgrader := gows.Upgrader {
        ReadBufferSize: cfg.ReadSize,
        WriteBufferSize: cfg.WriteSize,
    }
    if cfg.IgnoreOrigin {
        upgrader.CheckOrigin = ignoreOrigin
    }
    opts := gorilla_conn.Options {
        Timeout: cfg.IdleTimeout,
        TrustProxy: cfg.ReverseProxy,
        Logger: logger,
    }

    return func(w http.ResponseWriter, req *http.Request) (relay.Conn, error) {
        return gorilla_conn.NewConn(upgrader, opts, w, req)
    }
}
