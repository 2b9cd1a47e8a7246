// Package bufferjson implements the reversible JSON encoding used for stored
// credentials: raw byte fields are written as {"type":"Buffer","data":"<base64>"}
// so they survive a round trip distinctly from ordinary strings.
package bufferjson

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const bufferType = "Buffer"

// Buffer is a byte slice that keeps its identity through JSON.
type Buffer []byte

type bufferObject struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func (b Buffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(bufferObject{Type: bufferType, Data: base64.StdEncoding.EncodeToString(b)})
}

// UnmarshalJSON accepts the tagged object form, the Node.js array form
// ({"type":"Buffer","data":[1,2,3]}) and a bare base64 string.
func (b *Buffer) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = nil
		return nil
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if s, ok := raw.(string); ok {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid base64 buffer: %w", err)
		}
		*b = decoded
		return nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("cannot decode %s into Buffer", string(data))
	}
	decoded, ok, err := reviveBuffer(m)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("object is not a buffer")
	}
	*b = decoded
	return nil
}

// Marshal encodes v, converting every []byte found in generic maps and
// slices to its tagged buffer form.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(replace(v))
}

// Unmarshal decodes data into a generic document. Tagged buffer objects
// come back as Buffer values, numbers as json.Number.
func Unmarshal(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return revive(raw)
}

// Decode re-encodes a generic document and unmarshals it into target.
func Decode(doc interface{}, target interface{}) error {
	data, err := Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func replace(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return Buffer(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = replace(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = replace(item)
		}
		return out
	default:
		return v
	}
}

func revive(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		if buf, ok, err := reviveBuffer(val); err != nil {
			return nil, err
		} else if ok {
			return buf, nil
		}
		for k, item := range val {
			revived, err := revive(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			val[k] = revived
		}
		return val, nil
	case []interface{}:
		for i, item := range val {
			revived, err := revive(item)
			if err != nil {
				return nil, err
			}
			val[i] = revived
		}
		return val, nil
	default:
		return v, nil
	}
}

func reviveBuffer(m map[string]interface{}) (Buffer, bool, error) {
	var payload interface{}
	switch {
	case m["type"] == bufferType:
		payload = m["data"]
	case m["buffer"] == true:
		payload = m["value"]
	default:
		return nil, false, nil
	}

	switch data := payload.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, false, fmt.Errorf("invalid base64 buffer: %w", err)
		}
		return Buffer(decoded), true, nil
	case []interface{}:
		out := make(Buffer, len(data))
		for i, item := range data {
			n, err := toByte(item)
			if err != nil {
				return nil, false, err
			}
			out[i] = n
		}
		return out, true, nil
	case nil:
		return Buffer{}, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported buffer payload %T", payload)
	}
}

func toByte(v interface{}) (byte, error) {
	var n int64
	switch num := v.(type) {
	case json.Number:
		parsed, err := num.Int64()
		if err != nil {
			return 0, err
		}
		n = parsed
	case float64:
		n = int64(num)
	default:
		return 0, fmt.Errorf("buffer element %v is not a number", v)
	}
	if n < 0 || n > 255 {
		return 0, fmt.Errorf("buffer element %d out of range", n)
	}
	return byte(n), nil
}
