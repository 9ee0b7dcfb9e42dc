// Package model defines the data models shared by the game center server.
package model

import "time"

// TerminalStatus is the activity state of a connected terminal.
type TerminalStatus int

// Terminal statuses. The numeric values are part of the wire format.
const (
	StatusOffline TerminalStatus = iota
	StatusOnline
	StatusPlaying
	StatusDownloading
	StatusUpdating
)

// String returns the status name for logs.
func (s TerminalStatus) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusOnline:
		return "online"
	case StatusPlaying:
		return "playing"
	case StatusDownloading:
		return "downloading"
	case StatusUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

// Terminal is the server-side view of one connected client machine.
type Terminal struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	HardwareID  string         `json:"hardwareId"`
	Version     string         `json:"version,omitempty"`
	Address     string         `json:"address"`
	Status      TerminalStatus `json:"status"`
	CurrentGame string         `json:"currentGame,omitempty"`
	ConnectedAt time.Time      `json:"connectedAt"`
	LastSeen    time.Time      `json:"lastSeen"`
	Blocked     bool           `json:"blocked"`
	AccountID   int64          `json:"accountId,omitempty"`
	AccountName string         `json:"accountName,omitempty"`
}

// AccountStatus is the two-state status of a billable account.
type AccountStatus string

// Account statuses as stored in the accounts table.
const (
	AccountBlocked AccountStatus = "blocked"
	AccountActive  AccountStatus = "active"
)

// Account is a billable end-user identity keyed by phone number.
type Account struct {
	ID        int64         `json:"id" db:"id"`
	Surname   string        `json:"surname" db:"surname"`
	GivenName string        `json:"givenName" db:"given_name"`
	Phone     string        `json:"phone" db:"phone"`
	Password  string        `json:"-" db:"password"`
	Balance   int64         `json:"balance" db:"balance"`
	Status    AccountStatus `json:"status" db:"status"`
}

// FullName returns "Surname GivenName".
func (a *Account) FullName() string {
	return a.Surname + " " + a.GivenName
}

// SessionRecord is the durable history entry of a completed billing session.
type SessionRecord struct {
	ID              int64     `json:"id" db:"id"`
	AccountID       int64     `json:"accountId" db:"account_id"`
	Surname         string    `json:"surname" db:"surname"`
	GivenName       string    `json:"givenName" db:"given_name"`
	Phone           string    `json:"phone" db:"phone"`
	BalanceConsumed int64     `json:"balanceConsumed" db:"balance_consumed"`
	StartTime       time.Time `json:"startTime" db:"start_time"`
	EndTime         time.Time `json:"endTime" db:"end_time"`
	ElapsedMinutes  int       `json:"elapsedMinutes" db:"elapsed_minutes"`
}

// CatalogEntry describes one distributable game.
type CatalogEntry struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Category       string    `json:"category,omitempty"`
	Version        string    `json:"version,omitempty"`
	ExecutablePath string    `json:"executablePath,omitempty"`
	IconPath       string    `json:"iconPath,omitempty"`
	StoragePath    string    `json:"storagePath"`
	SizeBytes      int64     `json:"sizeBytes"`
	Enabled        bool      `json:"enabled"`
	AddedAt        time.Time `json:"addedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FileInfo is one file of a catalog entry, addressed by its slash-separated relative path.
type FileInfo struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ServerStats is a point-in-time summary reported to the admin channel.
type ServerStats struct {
	TotalTerminals        int     `json:"totalTerminals"`
	OnlineTerminals       int     `json:"onlineTerminals"`
	PlayingTerminals      int     `json:"playingTerminals"`
	DownloadingTerminals  int     `json:"downloadingTerminals"`
	ActiveSessions        int     `json:"activeSessions"`
	TotalGames            int     `json:"totalGames"`
	TotalBytesTransferred int64   `json:"totalBytesTransferred"`
	UptimeSeconds         int64   `json:"uptimeSeconds"`
	CPUPercent            float64 `json:"cpuPercent"`
	MemoryBytes           uint64  `json:"memoryBytes"`
}
