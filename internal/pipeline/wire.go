package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"vibestyler/internal/agent"
)

// Message types on the front-end wire.
const (
	MsgApplyStyles      = "APPLY_STYLES"
	MsgSetActiveStyle   = "SET_ACTIVE_STYLE"
	MsgClearActiveStyle = "CLEAR_ACTIVE_STYLE"
	MsgDeleteSiteStyles = "DELETE_SITE_STYLES"
	MsgClearAllStyles   = "CLEAR_ALL_STYLES"
	MsgRemoveStyles     = "REMOVE_STYLES"
	MsgFinalStatus      = "FINAL_STATUS"
)

// tabRef accepts a tab id given as a string, a number or null.
type tabRef string

func (t *tabRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = tabRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("tabId: %w", err)
	}
	*t = tabRef(n.String())
	return nil
}

type wireIntent struct {
	Type    string          `json:"type"`
	Prompt  string          `json:"prompt,omitempty"`
	URL     string          `json:"url,omitempty"`
	TabID   tabRef          `json:"tabId,omitempty"`
	StyleID json.RawMessage `json:"styleId,omitempty"`
}

// DecodeIntent parses a front-end message.
func DecodeIntent(raw []byte) (Intent, error) {
	var w wireIntent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	tab := agent.TabID(w.TabID)
	switch w.Type {
	case MsgApplyStyles:
		return Apply{Prompt: w.Prompt, Origin: w.URL, Tab: tab}, nil
	case MsgSetActiveStyle:
		id, err := styleID(w.StyleID)
		if err != nil {
			return nil, err
		}
		return SetActive{Origin: w.URL, Tab: tab, StyleID: id}, nil
	case MsgClearActiveStyle:
		return ClearActive{Origin: w.URL, Tab: tab}, nil
	case MsgDeleteSiteStyles:
		return DeleteSite{Origin: w.URL, Tab: tab}, nil
	case MsgClearAllStyles:
		return DeleteAll{}, nil
	case MsgRemoveStyles:
		return Revert{Tab: tab}, nil
	default:
		return nil, fmt.Errorf("decode intent: unknown type %q", w.Type)
	}
}

func styleID(raw json.RawMessage) (*int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("styleId: %w", err)
		}
		raw = []byte(s)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("styleId: %w", err)
	}
	return &id, nil
}

// EncodeIntent renders in as a front-end message.
func EncodeIntent(in Intent) ([]byte, error) {
	w := map[string]any{}
	switch v := in.(type) {
	case Apply:
		w["type"] = MsgApplyStyles
		w["prompt"] = v.Prompt
		w["tabId"] = string(v.Tab)
		if v.Origin != "" {
			w["url"] = v.Origin
		}
	case SetActive:
		w["type"] = MsgSetActiveStyle
		w["url"] = v.Origin
		w["tabId"] = string(v.Tab)
		w["styleId"] = v.StyleID
	case ClearActive:
		w["type"] = MsgClearActiveStyle
		w["url"] = v.Origin
		w["tabId"] = string(v.Tab)
	case DeleteSite:
		w["type"] = MsgDeleteSiteStyles
		w["url"] = v.Origin
		if v.Tab != "" {
			w["tabId"] = string(v.Tab)
		} else {
			w["tabId"] = nil
		}
	case DeleteAll:
		w["type"] = MsgClearAllStyles
	case Revert:
		w["type"] = MsgRemoveStyles
		w["tabId"] = string(v.Tab)
	default:
		return nil, fmt.Errorf("encode intent: unsupported %T", in)
	}
	return json.Marshal(w)
}

// FinalStatus is the broadcast form of an Outcome.
type FinalStatus struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Status   string `json:"status"`
	Prompt   string `json:"prompt,omitempty"`
	ID       *int64 `json:"id,omitempty"`
	Injected bool   `json:"injected"`
	Kind     Kind   `json:"kind,omitempty"`
}

// ToFinalStatus converts o to its wire form.
func ToFinalStatus(o Outcome) FinalStatus {
	fs := FinalStatus{
		Type:     MsgFinalStatus,
		Success:  o.Success,
		Status:   o.Message,
		Injected: o.Injected,
		Kind:     o.Failure,
	}
	if o.Applied != nil {
		id := o.Applied.ID
		fs.ID = &id
		fs.Prompt = o.Applied.Prompt
	}
	return fs
}

// Reply is the immediate answer to a dispatched Intent. Apply replies with
// an acknowledgment and its Outcome follows on the broadcast; every other
// intent replies with its Outcome.
type Reply struct {
	Status  string
	Outcome *Outcome
}

type wireReply struct {
	Status   string `json:"status"`
	Success  *bool  `json:"success,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	ID       *int64 `json:"id,omitempty"`
	Injected *bool  `json:"injected,omitempty"`
	Kind     Kind   `json:"kind,omitempty"`
}

// MarshalJSON renders the reply as {status, success?, prompt?, id?}. An
// explicit Status wins over the Outcome message.
func (r Reply) MarshalJSON() ([]byte, error) {
	w := wireReply{Status: r.Status}
	if o := r.Outcome; o != nil {
		if w.Status == "" {
			w.Status = o.Message
		}
		w.Success = &o.Success
		w.Injected = &o.Injected
		w.Kind = o.Failure
		if o.Applied != nil {
			id := o.Applied.ID
			w.ID = &id
			w.Prompt = o.Applied.Prompt
		}
	}
	return json.Marshal(w)
}
