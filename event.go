package go_relay_i_guess

import (
    "encoding/json"
)

// Names of the events exchanged with the remote client.
const (
    EventAuth = "auth"
    EventInit = "init"
    EventInput = "input"
    EventMore = "more"
    EventConn = "conn"
    EventChangePassword = "change-password"
    EventOpen = "open"
    EventSort = "sort"
    EventNames = "names"
)

// envelope is the wire format of every message: a JSON text frame carrying
// the event's name and its payload.
type envelope struct {
    Event string `json:"event"`
    Data json.RawMessage `json:"data,omitempty"`
}

// encodeEvent serialize `data` as the payload of the event `name`.
func encodeEvent(name string, data interface{}) (string, error) {
    raw, err := json.Marshal(data)
    if err != nil {
        return "", err
    }

    msg, err := json.Marshal(&envelope {
        Event: name,
        Data: raw,
    })
    if err != nil {
        return "", err
    }

    return string(msg), nil
}

// decodeEvent split a received message into its name and raw payload.
func decodeEvent(msg string) (string, json.RawMessage, error) {
    var env envelope

    err := json.Unmarshal([]byte(msg), &env)
    if err != nil || len(env.Event) == 0 {
        return "", nil, InvalidEvent
    }

    return env.Event, env.Data, nil
}

// Credential is the payload of an `auth` event, plus the stored-session
// reference presented by the transport (if any). It only lives for a
// single authentication attempt.
type Credential struct {
    User string `json:"user,omitempty"`
    Password string `json:"password,omitempty"`
    Token string `json:"token,omitempty"`

    // Reference is taken from the connection, never from the payload.
    Reference string `json:"-"`
}

// IsEmpty check whether the credential carries nothing to authenticate
// with.
func (c Credential) IsEmpty() bool {
    return len(c.User) == 0 && len(c.Password) == 0 &&
            len(c.Token) == 0 && len(c.Reference) == 0
}

// authReply is the payload of an outbound `auth` event.
type authReply struct {
    Success bool `json:"success"`
}

// initReply is the snapshot sent once a connection gets bound.
type initReply struct {
    Active interface{} `json:"active"`
    Networks interface{} `json:"networks"`
    Token *string `json:"token"`
}

// changePasswordRequest is the payload of an inbound `change-password`.
//
// Pointers distinguish missing fields from empty ones.
type changePasswordRequest struct {
    OldPassword *string `json:"old_password"`
    NewPassword *string `json:"new_password"`
    VerifyPassword *string `json:"verify_password"`
}

// changePasswordReply is the payload of an outbound `change-password`.
type changePasswordReply struct {
    Success string `json:"success,omitempty"`
    Error string `json:"error,omitempty"`
    Token string `json:"token,omitempty"`
}

// ConnectRequest is the payload of a `conn` event, asking a session to
// open a new upstream link. Fields are kept as received, except for `ip`
// and `hostname`, which always carry the session's own values.
type ConnectRequest map[string]interface{}

// IP retrieve the origin address attached to the request.
func (r ConnectRequest) IP() string {
    s, _ := r["ip"].(string)
    return s
}

// Hostname retrieve the origin hostname attached to the request.
func (r ConnectRequest) Hostname() string {
    s, _ := r["hostname"].(string)
    return s
}
