// Package protocol defines the wire messages exchanged with peers.
//
// Inbound frames go through a two-stage decode: a JSON object is classified
// by its "type" discriminator, anything else is matched against the bare
// role tokens. The result is always one of a closed set of Kinds.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/duplex-relay/internal/domain"
)

const (
	TypeConnect       = "connect"
	TypeIdentify      = "identify"
	ActionIdentify    = "identify"
	TypeHeartbeat     = "heartbeat"
	TypePing          = "ping"
	TypeStatusRequest = "status_request"
	TypeAudioData     = "audio_data"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindHeartbeat
	KindPing
	KindStatusRequest
	KindAudio
	KindListening
	KindTelemetry
	KindIdentify
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindPing:
		return "ping"
	case KindStatusRequest:
		return "status_request"
	case KindAudio:
		return "audio"
	case KindListening:
		return "listening"
	case KindTelemetry:
		return "telemetry"
	case KindIdentify:
		return "identify"
	}
	return "unknown"
}

// AudioPayload is the inbound audio_data shape. Data and the format
// metadata stay raw so the relay forwards exactly what the sender produced;
// a nil metadata field means the key was absent.
type AudioPayload struct {
	From       domain.Role
	To         domain.Role
	Data       json.RawMessage
	SampleRate json.RawMessage
	Format     json.RawMessage
	Channels   json.RawMessage
}

func audioFields(fields map[string]json.RawMessage) AudioPayload {
	return AudioPayload{
		From:       domain.Role(stringField(fields, "from")),
		To:         domain.Role(stringField(fields, "to")),
		Data:       fields["data"],
		SampleRate: fields["sampleRate"],
		Format:     fields["format"],
		Channels:   fields["channels"],
	}
}

// Empty reports whether the payload carries no audio content.
func (p AudioPayload) Empty() bool {
	switch string(p.Data) {
	case "", "null", `""`, "[]":
		return true
	}
	return false
}

// Message is a decoded inbound frame.
type Message struct {
	Kind Kind
	Type string
	// From is the declared sender, empty when absent.
	From  domain.Role
	Claim domain.Role
	Audio AudioPayload
	// Fields holds the top-level JSON object, nil for bare text.
	Fields map[string]json.RawMessage
	Raw    []byte
}

// Decoder classifies inbound frames for one configured role pair.
type Decoder struct {
	roles         domain.Roles
	listeningType string
	telemetryType string
}

func NewDecoder(roles domain.Roles) *Decoder {
	return &Decoder{
		roles:         roles,
		listeningType: ListeningType(roles),
		telemetryType: TelemetryType(roles),
	}
}

// ListeningType is the A->B listening-state signal type.
func ListeningType(roles domain.Roles) string { return string(roles.A) + "_listening" }

// TelemetryType is the B->A device status signal type.
func TelemetryType(roles domain.Roles) string { return string(roles.B) + "_status" }

func (d *Decoder) Roles() domain.Roles { return d.roles }

func (d *Decoder) Decode(data []byte) Message {
	msg := Message{Raw: data}

	fields, ok := decodeObject(data)
	if !ok {
		if role, ok := d.roles.Parse(string(data)); ok {
			msg.Kind = KindIdentify
			msg.Claim = role
		}
		return msg
	}

	msg.Fields = fields
	msg.Type = stringField(fields, "type")
	msg.From = domain.Role(stringField(fields, "from"))

	switch msg.Type {
	case TypeHeartbeat:
		msg.Kind = KindHeartbeat
	case TypePing:
		msg.Kind = KindPing
	case TypeStatusRequest:
		msg.Kind = KindStatusRequest
	case TypeAudioData:
		msg.Kind = KindAudio
		msg.Audio = audioFields(fields)
	case d.listeningType:
		msg.Kind = KindListening
	case d.telemetryType:
		msg.Kind = KindTelemetry
	default:
		if role, ok := identifyFields(fields, d.roles); ok {
			msg.Kind = KindIdentify
			msg.Claim = role
		}
	}
	return msg
}
