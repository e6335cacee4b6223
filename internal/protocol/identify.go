package protocol

import (
	"encoding/json"

	"github.com/dkeye/duplex-relay/internal/domain"
)

// Identify extracts a role claim from a raw inbound message.
// It accepts {type:"connect",user}, {action:"identify",device},
// {type:"identify",role} and a bare token equal to a role name.
// Names outside the configured pair yield no claim.
func Identify(data []byte, roles domain.Roles) (domain.Role, bool) {
	fields, ok := decodeObject(data)
	if !ok {
		return roles.Parse(string(data))
	}
	return identifyFields(fields, roles)
}

func identifyFields(fields map[string]json.RawMessage, roles domain.Roles) (domain.Role, bool) {
	var claim string
	switch {
	case stringField(fields, "type") == TypeConnect && stringField(fields, "user") != "":
		claim = stringField(fields, "user")
	case stringField(fields, "action") == ActionIdentify && stringField(fields, "device") != "":
		claim = stringField(fields, "device")
	case stringField(fields, "type") == TypeIdentify && stringField(fields, "role") != "":
		claim = stringField(fields, "role")
	default:
		return "", false
	}
	return roles.Parse(claim)
}

// decodeObject reports false for anything that is not a JSON object.
func decodeObject(data []byte) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
