package main

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "net"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    relay "github.com/SirGFM/go-relay-i-guess"
    "github.com/SirGFM/go-relay-i-guess/internal/logger"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/redis/go-redis/v9"
    "github.com/spf13/cobra"
)

// How long in-flight HTTP requests may take once the server is stopping.
const shutdownTimeout = time.Second * 5

func newStartCmd(cfgFile *string) *cobra.Command {
    return &cobra.Command {
        Use: "start",
        Short: "Start the relay server",
        Long: `Start the relay server with the specified configuration.

Every option may be overridden from the environment, e.g.:
  RELAY_PUBLIC=true RELAY_LOGGING_LEVEL=DEBUG relay-server start`,
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := loadConfig(*cfgFile)
            if err != nil {
                return err
            }

            log, closer, err := logger.New(logger.Config {
                Level: cfg.Logging.Level,
                Format: cfg.Logging.Format,
                Output: cfg.Logging.Output,
            })
            if err != nil {
                return err
            }
            defer closer.Close()

            ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
            defer stop()

            return runServer(ctx, cfg, log)
        },
    }
}

// buildServerConf translate the binary's configuration into the relay's.
func buildServerConf(cfg *Config, log *slog.Logger,
        reg prometheus.Registerer) relay.ServerConf {
    conf := relay.GetDefaultServerConf()
    conf.OpenAccess = cfg.Public
    conf.EnrichmentRequired = cfg.WebIRC
    conf.ReverseProxyTrusted = cfg.ReverseProxy
    conf.Hasher = relay.BcryptHasher{Cost: cfg.BcryptCost}
    conf.ResolveTimeout = cfg.ResolveTimeout
    conf.NewClient = newEchoFactory(log)
    conf.Logger = log

    if !cfg.Public {
        conf.Users = relay.NewFileUserStore(cfg.UsersDir)
    }

    if cfg.Redis.Enabled {
        store := relay.NewRedisSessionStore(&redis.Options {
            Addr: cfg.Redis.Addr,
            Password: cfg.Redis.Password,
            DB: cfg.Redis.DB,
        }, log)
        store.Prefix = cfg.Redis.Prefix
        store.Timeout = cfg.Redis.Timeout
        conf.Store = store
    }

    if reg != nil {
        conf.Metrics = relay.NewMetrics(reg)
    }

    return conf
}

// runServer serve the relay until `ctx` is done.
func runServer(ctx context.Context, cfg *Config, log *slog.Logger) error {
    var reg *prometheus.Registry
    if cfg.Metrics.Enabled {
        reg = prometheus.NewRegistry()
        reg.MustRegister(collectors.NewGoCollector(),
                collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    }

    var registerer prometheus.Registerer
    if reg != nil {
        registerer = reg
    }

    rs, err := relay.NewServerConf(buildServerConf(cfg, log, registerer))
    if err != nil {
        return fmt.Errorf("failed to create the relay: %w", err)
    }

    if cfg.Public {
        log.Info("relay-server: Server is running in public mode")
    } else {
        log.Info("relay-server: Server is running in private mode",
                "users", len(rs.Sessions()))
    }

    srv := newServer(cfg, rs, reg, log)

    ln, err := net.Listen("tcp", cfg.Addr())
    if err != nil {
        rs.Close()
        return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
    }

    errCh := make(chan error, 1)
    go func() {
        log.Info("relay-server: Waiting...", "addr", ln.Addr().String(),
                "transport", cfg.Transport)
        errCh <- srv.httpServer.Serve(ln)
    } ()

    select {
    case <-ctx.Done():
        log.Info("relay-server: Exiting...")
    case err = <-errCh:
        if !errors.Is(err, http.ErrServerClosed) {
            rs.Close()
            return err
        }
    }

    shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
    defer cancel()

    return srv.Shutdown(shutdownCtx)
}
