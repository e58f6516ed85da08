package go_relay_i_guess

// Error type for this package.
type RelayError uint

const (
    // No authentication strategy matched any live session.
    Unauthorized RelayError = iota
    // A change-password request failed one of its field checks.
    ValidationFailed
    // The session store couldn't be reached, or returned garbage.
    StoreUnavailable
    // Reverse resolution of the client address failed.
    ResolutionFailed
    // The session's configuration couldn't be persisted.
    PersistenceFailed
    // The connection was closed, either by the remote endpoint or locally.
    ConnEOF
    // The session was removed from the registry before the connection
    // could be bound to it.
    SessionClosed
    // The connection was already bound to a session.
    AlreadyBound
    // The received message isn't a valid event.
    InvalidEvent
    // Timed out waiting for something (only used by tests).
    TestTimeout
)

func (e RelayError) Error() string {
    switch e {
    case Unauthorized:
        return "Unauthorized"
    case ValidationFailed:
        return "Validation failed"
    case StoreUnavailable:
        return "Session store unavailable"
    case ResolutionFailed:
        return "Reverse address resolution failed"
    case PersistenceFailed:
        return "Failed to persist the session's configuration"
    case ConnEOF:
        return "Connection closed"
    case SessionClosed:
        return "Session was closed"
    case AlreadyBound:
        return "Connection already bound to a session"
    case InvalidEvent:
        return "Invalid event"
    case TestTimeout:
        return "Test timed out"
    default:
        return "Unknown error"
    }
}
