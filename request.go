package go_relay_i_guess

import (
    "net"
    "net/http"
    "strings"
)

// SessionCookie names the cookie carrying a stored-session reference.
const SessionCookie = "session"

// ClientAddr retrieve the address of the client that sent `req`.
//
// `X-Forwarded-For` is only honoured when `trustProxy` is set, in which
// case its first (i.e., the original client's) entry is used.
func ClientAddr(req *http.Request, trustProxy bool) string {
    if trustProxy {
        fwd := req.Header.Get("X-Forwarded-For")
        if len(fwd) > 0 {
            first := strings.TrimSpace(strings.Split(fwd, ",")[0])
            if len(first) > 0 {
                return first
            }
        }
    }

    host, _, err := net.SplitHostPort(req.RemoteAddr)
    if err != nil {
        return req.RemoteAddr
    }
    return host
}

// SessionReference retrieve the stored-session reference sent with `req`,
// if any.
func SessionReference(req *http.Request) string {
    c, err := req.Cookie(SessionCookie)
    if err != nil {
        return ""
    }
    return c.Value
}
