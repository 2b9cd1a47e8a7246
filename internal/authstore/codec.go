package authstore

import (
	"encoding/json"
	"fmt"

	"wagateway/pkg/bufferjson"
)

// codec turns documents into stored strings and back.
type codec struct {
	sealer *Sealer
}

func (c codec) encode(v interface{}) (string, error) {
	data, err := bufferjson.Marshal(v)
	if err != nil {
		return "", err
	}
	if c.sealer != nil {
		return c.sealer.Seal(data)
	}
	return string(data), nil
}

func (c codec) open(stored string) ([]byte, error) {
	if c.sealer != nil {
		return c.sealer.Open(stored)
	}
	if IsSealed(stored) {
		return nil, fmt.Errorf("value is encrypted but no encryption secret is configured")
	}
	return []byte(stored), nil
}

// decode returns a generic document with raw bytes revived.
func (c codec) decode(stored string) (interface{}, error) {
	data, err := c.open(stored)
	if err != nil {
		return nil, err
	}
	return bufferjson.Unmarshal(data)
}

// decodeInto unmarshals a plain JSON value such as metadata.
func (c codec) decodeInto(stored string, target interface{}) error {
	data, err := c.open(stored)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
