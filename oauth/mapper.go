package oauth

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Mapper converts between values and request or response bodies.
type Mapper interface {
	Encode(v any) (string, error)
	Decode(resp *Response, v any) error
}

// JSONMapper is the default Mapper.
type JSONMapper struct{}

func (JSONMapper) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("oauth: encode payload: %w", err)
	}
	return string(b), nil
}

// Decode leaves v untouched for empty bodies.
func (JSONMapper) Decode(resp *Response, v any) error {
	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// ContentType is sent with encoded payloads.
func (JSONMapper) ContentType() string {
	return "application/json"
}
