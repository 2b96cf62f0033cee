package models

// PlayerIdentity identifies the local player to the live servers.
// ID is stable for the lifetime of the stored profile unless the caller
// supplies an authenticated one.
type PlayerIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// LobbyPlayer is a player waiting in a lobby.
type LobbyPlayer struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Ready        bool   `json:"ready"`
	LastActiveAt int64  `json:"lastActiveAt,omitempty"` // ms epoch
}

// PlayerPresence is a player connected to a running match.
type PlayerPresence struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	LastActiveAt int64  `json:"lastActiveAt,omitempty"` // ms epoch
}
