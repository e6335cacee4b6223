package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/dkeye/duplex-relay/internal/core"
	"github.com/dkeye/duplex-relay/internal/domain"
)

const (
	DefaultSampleRate = 44100
	DefaultFormat     = "PCM_16BIT"
	DefaultChannels   = 1

	ReasonRecipientNotConnected = "recipient not connected"
	ReasonRecipientSendFailed   = "recipient send failed"

	maxEcho = 100
)

type Welcome struct {
	Type         string        `json:"type"`
	Message      string        `json:"message"`
	Server       string        `json:"server"`
	Features     []string      `json:"features"`
	Roles        []domain.Role `json:"roles"`
	ConnectionID string        `json:"connectionId"`
	Timestamp    time.Time     `json:"timestamp"`
}

func NewWelcome(server string, roles domain.Roles, id core.ConnectionID, now time.Time) Welcome {
	return Welcome{
		Type:         "welcome",
		Message:      fmt.Sprintf("WebSocket connection established. Send '%s' or '%s' to identify.", roles.A, roles.B),
		Server:       server,
		Features:     []string{"audio_streaming", "real_time_communication", "heartbeat"},
		Roles:        roles.All(),
		ConnectionID: string(id),
		Timestamp:    now,
	}
}

type ConnectionConfirmed struct {
	Type         string        `json:"type"`
	Client       domain.Role   `json:"client"`
	Status       domain.Status `json:"status"`
	Message      string        `json:"message"`
	ConnectionID string        `json:"connectionId"`
	Timestamp    time.Time     `json:"timestamp"`
}

func NewConnectionConfirmed(role domain.Role, id core.ConnectionID, now time.Time) ConnectionConfirmed {
	return ConnectionConfirmed{
		Type:         "connection_confirmed",
		Client:       role,
		Status:       domain.StatusConnected,
		Message:      fmt.Sprintf("Hello %s! Connected, audio streaming available.", role),
		ConnectionID: string(id),
		Timestamp:    now,
	}
}

type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPong(now time.Time) Pong { return Pong{Type: "pong", Timestamp: now} }

type UserStatus struct {
	Type      string                        `json:"type"`
	Users     map[domain.Role]domain.Status `json:"users"`
	Sessions  int                           `json:"sessions"`
	Timestamp time.Time                     `json:"timestamp"`
}

func NewUserStatus(users map[domain.Role]domain.Status, sessions int, now time.Time) UserStatus {
	return UserStatus{Type: "user_status", Users: users, Sessions: sessions, Timestamp: now}
}

// AudioEnvelope is what the recipient receives for one relayed chunk.
type AudioEnvelope struct {
	Type       string          `json:"type"`
	From       domain.Role     `json:"from"`
	To         domain.Role     `json:"to"`
	Data       json.RawMessage `json:"data"`
	SampleRate json.RawMessage `json:"sampleRate"`
	Format     json.RawMessage `json:"format"`
	Channels   json.RawMessage `json:"channels"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewAudioEnvelope fills absent metadata with 44100 Hz, 16-bit PCM, mono.
// Metadata the sender declared is forwarded verbatim, whatever its type.
func NewAudioEnvelope(p AudioPayload, now time.Time) AudioEnvelope {
	return AudioEnvelope{
		Type:       TypeAudioData,
		From:       p.From,
		To:         p.To,
		Data:       p.Data,
		SampleRate: orDefault(p.SampleRate, strconv.Itoa(DefaultSampleRate)),
		Format:     orDefault(p.Format, strconv.Quote(DefaultFormat)),
		Channels:   orDefault(p.Channels, strconv.Itoa(DefaultChannels)),
		Timestamp:  now,
	}
}

func orDefault(raw json.RawMessage, def string) json.RawMessage {
	if raw == nil {
		return json.RawMessage(def)
	}
	return raw
}

type DeliveryFailed struct {
	Type      string      `json:"type"`
	Target    domain.Role `json:"target"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewDeliveryFailed(target domain.Role, reason string, now time.Time) DeliveryFailed {
	return DeliveryFailed{Type: "delivery_failed", Target: target, Reason: reason, Timestamp: now}
}

type Error struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func NewError(message string, now time.Time) Error {
	return Error{Type: "error", Message: message, Timestamp: now}
}

type Debug struct {
	Type            string    `json:"type"`
	Received        string    `json:"received"`
	Message         string    `json:"message"`
	ExpectedFormats []string  `json:"expectedFormats"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewDebug(raw []byte, roles domain.Roles, now time.Time) Debug {
	return Debug{
		Type:            "debug",
		Received:        truncate(string(raw), maxEcho),
		Message:         fmt.Sprintf("Unrecognized format. Try '%s' or '%s'.", roles.A, roles.B),
		ExpectedFormats: ExpectedFormats(roles),
		Timestamp:       now,
	}
}

// ExpectedFormats lists every accepted identification shape.
func ExpectedFormats(roles domain.Roles) []string {
	return []string{
		string(roles.A),
		string(roles.B),
		fmt.Sprintf(`{"type":"connect","user":"%s"}`, roles.A),
		fmt.Sprintf(`{"action":"identify","device":"%s"}`, roles.A),
		fmt.Sprintf(`{"type":"identify","role":"%s"}`, roles.A),
	}
}

type Disconnected struct {
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func NewDisconnected(reason string, now time.Time) Disconnected {
	return Disconnected{Type: "disconnected", Reason: reason, Timestamp: now}
}

type ServerShutdown struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func NewServerShutdown(now time.Time) ServerShutdown {
	return ServerShutdown{Type: "server_shutdown", Message: "server is shutting down", Timestamp: now}
}

// Encode marshals an outbound message into a frame.
func Encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

// Retag re-encodes a forwarded object with from and timestamp set,
// leaving every other field untouched.
func Retag(fields map[string]json.RawMessage, from domain.Role, now time.Time) (core.Frame, error) {
	out := make(map[string]json.RawMessage, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	if from != "" {
		b, _ := json.Marshal(from)
		out["from"] = b
	}
	if _, ok := out["timestamp"]; !ok {
		b, _ := json.Marshal(now)
		out["timestamp"] = b
	}
	return Encode(out)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
