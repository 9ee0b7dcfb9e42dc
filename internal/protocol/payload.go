package protocol

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
)

// Payload errors.
var (
	ErrUnknownKind  = errors.New("unknown message kind")
	ErrKindMismatch = errors.New("payload type does not match message kind")
)

// Payload is the closed set of message bodies. Each Kind maps to exactly one
// payload type; see payloadTypes.
type Payload interface {
	isPayload()
}

// Empty is the payload of kinds that carry no data.
type Empty struct{}

// Text is a plain string payload carried verbatim.
type Text struct{ Value string }

// EntryRef references a catalog entry by id, carried verbatim.
type EntryRef struct{ ID string }

// TerminalRef references a connected terminal by id, carried verbatim.
type TerminalRef struct{ ID string }

// HardwareRef references a terminal machine by hardware id, carried verbatim.
type HardwareRef struct{ ID string }

// ConnectRequest is the terminal handshake.
type ConnectRequest struct {
	Name       string `json:"name"`
	HardwareID string `json:"hardwareId"`
	Version    string `json:"version,omitempty"`
}

// ConnectAck acknowledges a handshake with the assigned terminal id.
type ConnectAck struct {
	TerminalID   string `json:"terminalId"`
	ServerTimeMs int64  `json:"serverTimeMs"`
}

// CatalogList is a catalog snapshot.
type CatalogList struct {
	Entries []model.CatalogEntry `json:"entries"`
}

// EntryDetail is one catalog entry with its file manifest. Entry is nil when
// the requested id is unknown.
type EntryDetail struct {
	Entry *model.CatalogEntry `json:"entry"`
	Files []model.FileInfo    `json:"files,omitempty"`
}

// EntryData carries a full catalog entry for add and update commands.
type EntryData struct {
	model.CatalogEntry
}

// FileRequest asks for one byte range of a catalog file.
type FileRequest struct {
	EntryID   string `json:"entryId"`
	Path      string `json:"path"`
	Offset    int64  `json:"offset"`
	ChunkSize int    `json:"chunkSize"`
}

// FileChunk answers a FileRequest. IsLast is true iff Offset+len(Data) >= TotalSize.
type FileChunk struct {
	EntryID   string `json:"entryId"`
	Path      string `json:"path"`
	Offset    int64  `json:"offset"`
	TotalSize int64  `json:"totalSize"`
	Data      []byte `json:"data"`
	IsLast    bool   `json:"isLast"`
}

// FileComplete is sent by a terminal after it stored the last chunk of a file.
type FileComplete struct {
	EntryID string `json:"entryId"`
	Path    string `json:"path,omitempty"`
}

// FileError reports why a FileRequest could not be served.
type FileError struct {
	EntryID string `json:"entryId"`
	Path    string `json:"path"`
	Reason  string `json:"reason"`
}

// AdminAuth is the first message of an admin connection.
type AdminAuth struct {
	Secret string `json:"secret"`
}

// Result is a generic success/failure reply.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// TerminalList is a registry snapshot.
type TerminalList struct {
	Terminals []model.Terminal `json:"terminals"`
}

// StatsReport carries server statistics.
type StatsReport struct {
	model.ServerStats
}

// LoginRequest carries account credentials typed on a terminal.
type LoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// LoginResponse answers a LoginRequest. Account is set only on success.
type LoginResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Account *model.Account `json:"account,omitempty"`
}

// BalanceUpdate reports the balance after a billing tick.
type BalanceUpdate struct {
	AccountID      int64 `json:"accountId"`
	Balance        int64 `json:"balance"`
	ElapsedMinutes int   `json:"elapsedMinutes"`
}

// SessionEnd is sent when a billing session is closed. Record is nil when
// nothing was appended to the history.
type SessionEnd struct {
	Record *model.SessionRecord `json:"record,omitempty"`
	Reason string               `json:"reason,omitempty"`
}

// AccountList is an account snapshot.
type AccountList struct {
	Accounts []model.Account `json:"accounts"`
}

func (Empty) isPayload()          {}
func (Text) isPayload()           {}
func (EntryRef) isPayload()       {}
func (TerminalRef) isPayload()    {}
func (HardwareRef) isPayload()    {}
func (ConnectRequest) isPayload() {}
func (ConnectAck) isPayload()     {}
func (CatalogList) isPayload()    {}
func (EntryDetail) isPayload()    {}
func (EntryData) isPayload()      {}
func (FileRequest) isPayload()    {}
func (FileChunk) isPayload()      {}
func (FileComplete) isPayload()   {}
func (FileError) isPayload()      {}
func (AdminAuth) isPayload()      {}
func (Result) isPayload()         {}
func (TerminalList) isPayload()   {}
func (StatsReport) isPayload()    {}
func (LoginRequest) isPayload()   {}
func (LoginResponse) isPayload()  {}
func (BalanceUpdate) isPayload()  {}
func (SessionEnd) isPayload()     {}
func (AccountList) isPayload()    {}

// Plain-string payloads are carried verbatim instead of as JSON.

func (t Text) MarshalText() ([]byte, error) { return []byte(t.Value), nil }

func (t *Text) UnmarshalText(b []byte) error {
	t.Value = string(b)
	return nil
}

func (r EntryRef) MarshalText() ([]byte, error) { return []byte(r.ID), nil }

func (r *EntryRef) UnmarshalText(b []byte) error {
	r.ID = string(b)
	return nil
}

func (r TerminalRef) MarshalText() ([]byte, error) { return []byte(r.ID), nil }

func (r *TerminalRef) UnmarshalText(b []byte) error {
	r.ID = string(b)
	return nil
}

func (r HardwareRef) MarshalText() ([]byte, error) { return []byte(r.ID), nil }

func (r *HardwareRef) UnmarshalText(b []byte) error {
	r.ID = string(b)
	return nil
}

// payloadTypes is the tagged union: every kind and the payload it carries.
var payloadTypes = map[Kind]func() Payload{
	KindConnect:      func() Payload { return &ConnectRequest{} },
	KindConnectAck:   func() Payload { return &ConnectAck{} },
	KindDisconnect:   func() Payload { return &Empty{} },
	KindHeartbeat:    func() Payload { return &Empty{} },
	KindHeartbeatAck: func() Payload { return &Empty{} },

	KindGetCatalog:  func() Payload { return &Empty{} },
	KindCatalogResp: func() Payload { return &CatalogList{} },
	KindGetEntry:    func() Payload { return &EntryRef{} },
	KindEntryResp:   func() Payload { return &EntryDetail{} },

	KindFileRequest:  func() Payload { return &FileRequest{} },
	KindFileChunk:    func() Payload { return &FileChunk{} },
	KindFileComplete: func() Payload { return &FileComplete{} },
	KindFileError:    func() Payload { return &FileError{} },

	KindLaunch:          func() Payload { return &EntryRef{} },
	KindLaunched:        func() Payload { return &EntryRef{} },
	KindClosed:          func() Payload { return &EntryRef{} },
	KindForceClose:      func() Payload { return &Text{} },
	KindForceDisconnect: func() Payload { return &Text{} },

	KindAdminAuth:     func() Payload { return &AdminAuth{} },
	KindAdminAuthResp: func() Payload { return &Result{} },
	KindGetTerminals:  func() Payload { return &Empty{} },
	KindTerminalsResp: func() Payload { return &TerminalList{} },
	KindGetStats:      func() Payload { return &Empty{} },
	KindStatsResp:     func() Payload { return &StatsReport{} },
	KindAddEntry:      func() Payload { return &EntryData{} },
	KindRemoveEntry:   func() Payload { return &EntryRef{} },
	KindUpdateEntry:   func() Payload { return &EntryData{} },
	KindBlock:         func() Payload { return &TerminalRef{} },
	KindUnblock:       func() Payload { return &HardwareRef{} },
	KindKick:          func() Payload { return &TerminalRef{} },
	KindSendMessage:   func() Payload { return &Text{} },

	KindLogin:         func() Payload { return &LoginRequest{} },
	KindLoginResp:     func() Payload { return &LoginResponse{} },
	KindLogout:        func() Payload { return &Empty{} },
	KindBalanceUpdate: func() Payload { return &BalanceUpdate{} },
	KindSessionEnd:    func() Payload { return &SessionEnd{} },
	KindGetAccounts:   func() Payload { return &Empty{} },
	KindAccountsResp:  func() Payload { return &AccountList{} },

	KindError: func() Payload { return &Text{} },
}

// Decode returns the typed payload for the envelope's kind. Unknown kinds,
// and bodies that do not fit the kind's payload type, are errors. Fields the
// payload type does not declare are ignored.
func (e *Envelope) Decode() (Payload, error) {
	newPayload, ok := payloadTypes[e.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, e.Kind)
	}
	p := newPayload()

	switch v := p.(type) {
	case *Empty:
		switch e.Payload {
		case "", "{}", "null":
			return v, nil
		}
		return nil, fmt.Errorf("%w: %s expects no payload", ErrDecode, e.Kind)
	case encoding.TextUnmarshaler:
		if err := v.UnmarshalText([]byte(e.Payload)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return p, nil
	}

	if e.Payload == "" {
		return nil, fmt.Errorf("%w: %s payload is empty", ErrDecode, e.Kind)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(e.Payload)))
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, e.Kind, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: %s: trailing data", ErrDecode, e.Kind)
	}
	return p, nil
}

// DecodeAs decodes the envelope payload and asserts its concrete type.
func DecodeAs[T Payload](e *Envelope) (T, error) {
	var zero T
	p, err := e.Decode()
	if err != nil {
		return zero, err
	}
	typed, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s carries %T", ErrKindMismatch, e.Kind, p)
	}
	return typed, nil
}

func encodePayload(kind Kind, p Payload) (string, error) {
	newPayload, ok := payloadTypes[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	want := reflect.TypeOf(newPayload()).Elem()

	if p == nil {
		if want == reflect.TypeOf(Empty{}) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %s requires %s", ErrKindMismatch, kind, want.Name())
	}

	got := reflect.TypeOf(p)
	if got.Kind() == reflect.Pointer {
		got = got.Elem()
	}
	if got != want {
		return "", fmt.Errorf("%w: %s requires %s, got %s", ErrKindMismatch, kind, want.Name(), got.Name())
	}

	switch v := p.(type) {
	case Empty, *Empty:
		return "", nil
	case encoding.TextMarshaler:
		b, err := v.MarshalText()
		if err != nil {
			return "", fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		return string(b), nil
	}

	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return string(b), nil
}
