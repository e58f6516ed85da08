// relay-pinger connects to a relay, authenticates and keeps sending input
// at random intervals, logging everything it receives.
package main

import (
    "context"
    "encoding/json"
    "fmt"
    "log/slog"
    mrand "math/rand"
    "net"
    "net/http"
    "os"
    "os/signal"
    "sync"
    "time"

    relay "github.com/SirGFM/go-relay-i-guess"
    "github.com/SirGFM/go-relay-i-guess/internal/logger"
    "github.com/gobwas/ws"
    "github.com/gobwas/ws/wsutil"
    "github.com/spf13/cobra"
)

type options struct {
    url string
    user string
    password string
    token string
    session string
    maxDelay time.Duration
    logLevel string
}

// pinger owns a client connection to the relay.
type pinger struct {
    conn net.Conn

    // m synchronizes writes to conn.
    m sync.Mutex

    logger *slog.Logger
}

// send the event `name` to the relay.
func (p *pinger) send(name string, data interface{}) error {
    raw, err := json.Marshal(data)
    if err != nil {
        return err
    }
    msg, err := json.Marshal(map[string]interface{} {
        "event": name,
        "data": json.RawMessage(raw),
    })
    if err != nil {
        return err
    }

    p.m.Lock()
    defer p.m.Unlock()
    return wsutil.WriteClientMessage(p.conn, ws.OpText, msg)
}

// close the connection, letting the relay know about it.
func (p *pinger) close() {
    p.m.Lock()
    err := wsutil.WriteClientMessage(p.conn, ws.OpClose, nil)
    p.m.Unlock()
    if err != nil {
        p.logger.Debug("relay-pinger: Couldn't send close", "error", err)
    }

    p.conn.Close()
}

// talk send an input after a random delay, until `ctx` is done.
func (p *pinger) talk(ctx context.Context, maxDelay time.Duration) {
    if maxDelay <= 0 {
        maxDelay = time.Second
    }

    for {
        // Wait between 1/128th of maxDelay and maxDelay.
        n := mrand.Int63n(128) + 1
        t := maxDelay * time.Duration(n) / 128

        select {
        case <-ctx.Done():
            return
        case <-time.After(t):
        }

        text := fmt.Sprintf("waited %s to say something", t)
        err := p.send(relay.EventInput, map[string]interface{}{"target": 0, "text": text})
        if err != nil {
            p.logger.Error("relay-pinger: Couldn't send message", "error", err)
            return
        }
    }
}

// listen log every event from the relay, answering pings, until the
// connection is closed.
func (p *pinger) listen() error {
    var buf []wsutil.Message

    for {
        var err error
        buf, err = wsutil.ReadServerMessage(p.conn, buf[:0])
        if err != nil {
            return err
        }

        for i := range buf {
            data := &(buf[i])
            switch data.OpCode {
            case ws.OpClose:
                p.logger.Info("relay-pinger: Server closed the connection")
                return nil
            case ws.OpPing:
                p.m.Lock()
                err = wsutil.WriteClientMessage(p.conn, ws.OpPong, data.Payload)
                p.m.Unlock()
                if err != nil {
                    return err
                }
            case ws.OpText:
                p.logger.Info("relay-pinger: Received", "event", string(data.Payload))
            }
        }
    }
}

func run(ctx context.Context, opts *options) error {
    log, err := logger.NewWithWriter(os.Stderr, opts.logLevel, "text")
    if err != nil {
        return err
    }

    dialer := ws.Dialer{}
    if len(opts.session) > 0 {
        header := http.Header{}
        header.Set("Cookie", (&http.Cookie{Name: relay.SessionCookie, Value: opts.session}).String())
        dialer.Header = ws.HandshakeHeaderHTTP(header)
    }

    conn, _, _, err := dialer.Dial(ctx, opts.url)
    if err != nil {
        return fmt.Errorf("failed to connect: %w", err)
    }

    p := &pinger {
        conn: conn,
        logger: log,
    }
    defer p.close()

    cred := relay.Credential {
        User: opts.user,
        Password: opts.password,
        Token: opts.token,
    }
    if !cred.IsEmpty() {
        err = p.send(relay.EventAuth, &cred)
        if err != nil {
            return fmt.Errorf("failed to authenticate: %w", err)
        }
    }

    ctx, cancel := context.WithCancel(ctx)
    defer cancel()
    go p.talk(ctx, opts.maxDelay)

    go func() {
        <-ctx.Done()
        conn.Close()
    } ()

    log.Info("relay-pinger: Waiting...", "url", opts.url)
    err = p.listen()
    if ctx.Err() != nil {
        log.Info("relay-pinger: Exiting...")
        return nil
    }
    return err
}

func main() {
    var opts options

    root := &cobra.Command {
        Use: "relay-pinger",
        Short: "Keep a relay connection busy",
        SilenceUsage: true,
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
            defer stop()

            return run(ctx, &opts)
        },
    }

    flags := root.Flags()
    flags.StringVar(&opts.url, "url", "ws://localhost:8888/relay", "URL of the relay endpoint")
    flags.StringVar(&opts.user, "user", "", "Username to authenticate with")
    flags.StringVar(&opts.password, "password", "", "Password to authenticate with")
    flags.StringVar(&opts.token, "token", "", "Token to authenticate with")
    flags.StringVar(&opts.session, "session", "", "Stored-session reference sent as a cookie")
    flags.DurationVar(&opts.maxDelay, "max-delay", time.Second * 16, "Longest wait between two messages")
    flags.StringVar(&opts.logLevel, "log-level", "INFO", "DEBUG, INFO, WARN or ERROR")

    if err := root.Execute(); err != nil {
        os.Exit(1)
    }
}
