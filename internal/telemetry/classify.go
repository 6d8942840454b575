package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ironvale/fleetcore/internal/device"
)

// ParseStatePayload decodes a state payload into one observation per
// top-level key, preserving the payload's key order.
//
// The payload must be a JSON object. Each value is classified with the
// fixed precedence boolean > number > structured > string; the classifier
// is part of the wire contract, so producers can rely on how a value will
// be typed.
func ParseStatePayload(data []byte) ([]device.Observation, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrMalformedPayload)
	}

	var observations []device.Observation
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string object key", ErrMalformedPayload)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}

		value, stateType := classifyValue(raw)
		observations = append(observations, device.Observation{
			Key:   key,
			Value: value,
			Type:  stateType,
		})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return observations, nil
}

// classifyValue maps a raw JSON value to its state type and canonical
// string encoding:
//
//	true/false     boolean  "true" / "false"
//	JSON number    number   strconv.FormatFloat 'g' form ("80", "21.5")
//	object/array   json     compacted JSON text
//	anything else  string   the unquoted string value
//
// JSON null is stored as json "null": it is structure, not absence.
func classifyValue(raw json.RawMessage) (string, device.StateType) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", device.TypeString
	}

	switch trimmed[0] {
	case 't', 'f':
		return string(trimmed), device.TypeBoolean

	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return string(trimmed), device.TypeJSON
		}
		return buf.String(), device.TypeJSON

	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return string(trimmed), device.TypeString
		}
		return s, device.TypeString

	case 'n':
		return "null", device.TypeJSON

	default:
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return string(trimmed), device.TypeString
		}
		return strconv.FormatFloat(f, 'g', -1, 64), device.TypeNumber
	}
}

// statusPayload is the body of a <kind>=status message.
//
// A status message is itself evidence of life: Online defaults to true
// when the key is absent.
type statusPayload struct {
	Online          *bool  `json:"online"`
	FirmwareVersion string `json:"firmware_version"`
}

// parseStatusPayload decodes a status payload.
func parseStatusPayload(data []byte) (online bool, firmware *string, err error) {
	var p statusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	online = true
	if p.Online != nil {
		online = *p.Online
	}
	if p.FirmwareVersion != "" {
		firmware = &p.FirmwareVersion
	}
	return online, firmware, nil
}

// parseOnlinePayload decodes an online (presence) payload. Like status, a
// missing online key means the device is announcing itself.
func parseOnlinePayload(data []byte) (bool, error) {
	var p struct {
		Online *bool `json:"online"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Online == nil {
		return true, nil
	}
	return *p.Online, nil
}
