package idempotency

import (
	"encoding/json"
	"fmt"
)

// HeaderPair is one response header. A name may appear more than once and the
// order of pairs is kept.
type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// Response is an HTTP response captured so it can be replayed byte for byte.
type Response struct {
	Status  int
	Headers []HeaderPair
	Body    []byte
}

// Values returns every value stored for name, in order.
func (r *Response) Values(name string) []string {
	var values []string
	for _, h := range r.Headers {
		if h.Name == name {
			values = append(values, string(h.Value))
		}
	}
	return values
}

func encodeHeaders(headers []HeaderPair) ([]byte, error) {
	if headers == nil {
		headers = []HeaderPair{}
	}
	raw, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encoding response headers: %w", err)
	}
	return raw, nil
}

func decodeHeaders(raw []byte) ([]HeaderPair, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var headers []HeaderPair
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, fmt.Errorf("decoding response headers: %w", err)
	}
	return headers, nil
}
