// Package composer injects the rendered preference summary into outbound
// chat requests while preserving every other request field byte for byte.
package composer

import (
	"encoding/json"
	"fmt"
)

// rawReq preserves all JSON fields on a request while allowing access to
// the system prompt.
type rawReq map[string]json.RawMessage

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Compose appends the preference suffix to the request's system prompt.
// A string system prompt gets the suffix appended after a blank line; a
// content-block system prompt gets an extra text block; a request without
// one gets the suffix as its system prompt. Messages and unknown fields
// pass through untouched. An empty suffix returns the body unchanged.
func Compose(body []byte, suffix string) ([]byte, error) {
	if suffix == "" {
		return body, nil
	}

	var req rawReq
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}

	raw, ok := req["system"]
	switch {
	case !ok:
		req["system"], _ = json.Marshal(suffix)
	default:
		merged, err := appendToSystem(raw, suffix)
		if err != nil {
			return nil, err
		}
		req["system"] = merged
	}

	out, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}
	return out, nil
}

func appendToSystem(raw json.RawMessage, suffix string) (json.RawMessage, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return json.Marshal(suffix)
		}
		return json.Marshal(s + "\n\n" + suffix)
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("unsupported system prompt shape: %w", err)
	}
	extra, _ := json.Marshal(textBlock{Type: "text", Text: suffix})
	blocks = append(blocks, extra)
	return json.Marshal(blocks)
}
