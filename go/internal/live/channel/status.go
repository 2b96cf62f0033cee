package channel

// Status is the connection state of one channel:
// idle → connecting → open ⇄ {closed, error}.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusError      Status = "error"
)

// Offline reports whether the session is offline: true unless both channels
// are open.
func Offline(lobby, match Status) bool {
	return lobby != StatusOpen || match != StatusOpen
}

// Kind names one of the two channels of a session.
type Kind string

const (
	Lobby Kind = "lobby"
	Match Kind = "match"
)
