// Package protocol implements the message envelope, its length-prefixed
// framing, and the typed payloads carried by every terminal and admin
// connection.
package protocol

import "fmt"

// Kind identifies the message type and dictates the payload schema.
type Kind uint8

// Connection lifecycle.
const (
	KindConnect      Kind = 0x01
	KindConnectAck   Kind = 0x02
	KindDisconnect   Kind = 0x03
	KindHeartbeat    Kind = 0x04
	KindHeartbeatAck Kind = 0x05
)

// Catalog.
const (
	KindGetCatalog  Kind = 0x10
	KindCatalogResp Kind = 0x11
	KindGetEntry    Kind = 0x12
	KindEntryResp   Kind = 0x13
)

// File transfer.
const (
	KindFileRequest  Kind = 0x20
	KindFileChunk    Kind = 0x21
	KindFileComplete Kind = 0x22
	KindFileError    Kind = 0x23
)

// Game process control.
const (
	KindLaunch          Kind = 0x30
	KindLaunched        Kind = 0x31
	KindClosed          Kind = 0x32
	KindForceClose      Kind = 0x33
	KindForceDisconnect Kind = 0x34
)

// Admin channel.
const (
	KindAdminAuth     Kind = 0x40
	KindAdminAuthResp Kind = 0x41
	KindGetTerminals  Kind = 0x42
	KindTerminalsResp Kind = 0x43
	KindGetStats      Kind = 0x44
	KindStatsResp     Kind = 0x45
	KindAddEntry      Kind = 0x46
	KindRemoveEntry   Kind = 0x47
	KindUpdateEntry   Kind = 0x48
	KindBlock         Kind = 0x49
	KindUnblock       Kind = 0x4A
	KindKick          Kind = 0x4B
	KindSendMessage   Kind = 0x4C
)

// Accounts and billing.
const (
	KindLogin         Kind = 0x50
	KindLoginResp     Kind = 0x51
	KindLogout        Kind = 0x52
	KindBalanceUpdate Kind = 0x53
	KindSessionEnd    Kind = 0x54
	KindGetAccounts   Kind = 0x55
	KindAccountsResp  Kind = 0x56
)

// KindError carries a human-readable failure reason.
const KindError Kind = 0xFF

var kindNames = map[Kind]string{
	KindConnect:         "connect",
	KindConnectAck:      "connect-ack",
	KindDisconnect:      "disconnect",
	KindHeartbeat:       "heartbeat",
	KindHeartbeatAck:    "heartbeat-ack",
	KindGetCatalog:      "get-catalog",
	KindCatalogResp:     "catalog-resp",
	KindGetEntry:        "get-entry",
	KindEntryResp:       "entry-resp",
	KindFileRequest:     "file-request",
	KindFileChunk:       "file-chunk",
	KindFileComplete:    "file-complete",
	KindFileError:       "file-error",
	KindLaunch:          "launch",
	KindLaunched:        "launched",
	KindClosed:          "closed",
	KindForceClose:      "force-close",
	KindForceDisconnect: "force-disconnect",
	KindAdminAuth:       "admin-auth",
	KindAdminAuthResp:   "admin-auth-resp",
	KindGetTerminals:    "get-terminals",
	KindTerminalsResp:   "terminals-resp",
	KindGetStats:        "get-stats",
	KindStatsResp:       "stats-resp",
	KindAddEntry:        "add-entry",
	KindRemoveEntry:     "remove-entry",
	KindUpdateEntry:     "update-entry",
	KindBlock:           "block",
	KindUnblock:         "unblock",
	KindKick:            "kick",
	KindSendMessage:     "send-message",
	KindLogin:           "login",
	KindLoginResp:       "login-resp",
	KindLogout:          "logout",
	KindBalanceUpdate:   "balance-update",
	KindSessionEnd:      "session-end",
	KindGetAccounts:     "get-accounts",
	KindAccountsResp:    "accounts-resp",
	KindError:           "error",
}

// String returns the kind name, or its hex value when unknown.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(0x%02X)", uint8(k))
}

// Known reports whether k is part of the enumeration.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}
