package envelope

import "encoding/json"

// DecodePayload unmarshals an envelope's generic payload map into a typed
// struct via a JSON round trip, mirroring how the envelope itself is
// decoded field-by-field.
func DecodePayload[T any](payload map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// EncodePayload marshals a typed struct into the generic map[string]any
// shape domain.Envelope.Payload expects.
func EncodePayload(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
