package agent

import (
	"encoding/json"
	"fmt"
)

type wireRequest struct {
	Type RequestType `json:"type"`
	CSS  string      `json:"css,omitempty"`
}

type wireResponse struct {
	Status   string   `json:"status"`
	Data     *Content `json:"data,omitempty"`
	Injected *bool    `json:"injected,omitempty"`
	Removed  *bool    `json:"removed,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// EncodeRequest renders req as the JSON message an agent reads.
func EncodeRequest(req Request) ([]byte, error) {
	w := wireRequest{Type: req.Type()}
	switch r := req.(type) {
	case Extract, RemoveStyles:
	case InjectCSS:
		w.CSS = r.CSS
	default:
		return nil, fmt.Errorf("encode request: unsupported %T", req)
	}
	return json.Marshal(w)
}

// DecodeRequest parses an agent request message.
func DecodeRequest(raw []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	switch w.Type {
	case TypeExtractContent:
		return Extract{}, nil
	case TypeInjectCSS:
		return InjectCSS{CSS: w.CSS}, nil
	case TypeRemoveStyles:
		return RemoveStyles{}, nil
	default:
		return nil, fmt.Errorf("decode request: unknown type %q", w.Type)
	}
}

// EncodeResponse renders resp as the JSON message an agent writes.
func EncodeResponse(resp Response) ([]byte, error) {
	w := wireResponse{Status: resp.Status()}
	switch r := resp.(type) {
	case Extracted:
		c := r.Content
		w.Data = &c
	case Injected:
		w.Injected = &r.Injected
	case Removed:
		w.Removed = &r.Removed
	default:
		return nil, fmt.Errorf("encode response: unsupported %T", resp)
	}
	return json.Marshal(w)
}

// DecodeResponse parses the agent's answer to a request of type req. An
// error field set by the agent is returned as an error.
func DecodeResponse(req RequestType, raw []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if w.Error != "" {
		return nil, fmt.Errorf("agent: %s", w.Error)
	}
	switch req {
	case TypeExtractContent:
		if w.Data == nil {
			return nil, fmt.Errorf("decode response: %w: missing data", ErrUnexpectedResponse)
		}
		return Extracted{Content: *w.Data}, nil
	case TypeInjectCSS:
		return Injected{Injected: w.Injected != nil && *w.Injected}, nil
	case TypeRemoveStyles:
		return Removed{Removed: w.Removed != nil && *w.Removed}, nil
	default:
		return nil, fmt.Errorf("decode response: unknown request type %q", req)
	}
}
