// Package agent defines the contract between the coordinator and the agent
// running inside a page: a closed set of requests (extract, inject, remove),
// their responses, and the Host that installs agents and carries messages.
package agent

import (
	"context"
	"fmt"
)

// TabID identifies the page an agent lives in.
type TabID string

// StyleElementID tags the single style element an agent manages.
const StyleElementID = "vibe-styler-injected-styles"

// Content is an extraction snapshot of a page.
type Content struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	URL  string `json:"url"`
}

// RequestType is the wire tag of a Request.
type RequestType string

const (
	TypeExtractContent RequestType = "EXTRACT_CONTENT"
	TypeInjectCSS      RequestType = "INJECT_CSS"
	TypeRemoveStyles   RequestType = "REMOVE_STYLES"
)

// Request is one of Extract, InjectCSS or RemoveStyles.
type Request interface {
	Type() RequestType
	isRequest()
}

// Extract asks for a Content snapshot.
type Extract struct{}

// InjectCSS replaces the managed style element's content with CSS.
type InjectCSS struct {
	CSS string
}

// RemoveStyles removes the managed style element.
type RemoveStyles struct{}

func (Extract) Type() RequestType      { return TypeExtractContent }
func (InjectCSS) Type() RequestType    { return TypeInjectCSS }
func (RemoveStyles) Type() RequestType { return TypeRemoveStyles }

func (Extract) isRequest()      {}
func (InjectCSS) isRequest()    {}
func (RemoveStyles) isRequest() {}

// Response is one of Extracted, Injected or Removed.
type Response interface {
	Status() string
	isResponse()
}

const (
	StatusExtracted  = "Content extracted"
	StatusInjected   = "CSS injected successfully."
	StatusRemoved    = "Styles removed successfully."
	StatusNotRemoved = "No styles to remove."
)

// Extracted answers Extract.
type Extracted struct {
	Content Content
}

// Injected answers InjectCSS.
type Injected struct {
	Injected bool
}

// Removed answers RemoveStyles. Removed is false when there was no element.
type Removed struct {
	Removed bool
}

func (Extracted) Status() string { return StatusExtracted }

func (r Injected) Status() string {
	if r.Injected {
		return StatusInjected
	}
	return "CSS not injected."
}

func (r Removed) Status() string {
	if r.Removed {
		return StatusRemoved
	}
	return StatusNotRemoved
}

func (Extracted) isResponse() {}
func (Injected) isResponse()  {}
func (Removed) isResponse()   {}

// Host installs agents into pages and delivers requests to them.
type Host interface {
	// Ensure installs the agent in tab if it is not there yet. A nil return
	// is the agent's ready acknowledgment.
	Ensure(ctx context.Context, tab TabID) error
	// Dispatch delivers req to the agent in tab and waits for its response.
	Dispatch(ctx context.Context, tab TabID, req Request) (Response, error)
}

func send(ctx context.Context, h Host, tab TabID, req Request) (Response, error) {
	resp, err := h.Dispatch(ctx, tab, req)
	if err != nil {
		return nil, &ChannelError{Tab: tab, Request: req.Type(), Err: err}
	}
	if resp == nil {
		return nil, &ChannelError{Tab: tab, Request: req.Type(), Err: ErrNoResponse}
	}
	return resp, nil
}

func unexpected(tab TabID, req RequestType, resp Response) error {
	return &ChannelError{Tab: tab, Request: req, Err: fmt.Errorf("%w: %T", ErrUnexpectedResponse, resp)}
}

// RequestExtract dispatches Extract and returns the snapshot.
func RequestExtract(ctx context.Context, h Host, tab TabID) (Content, error) {
	resp, err := send(ctx, h, tab, Extract{})
	if err != nil {
		return Content{}, err
	}
	r, ok := resp.(Extracted)
	if !ok {
		return Content{}, unexpected(tab, TypeExtractContent, resp)
	}
	return r.Content, nil
}

// RequestInject dispatches InjectCSS. An agent that answers without
// confirming the injection is reported as a channel failure.
func RequestInject(ctx context.Context, h Host, tab TabID, css string) error {
	resp, err := send(ctx, h, tab, InjectCSS{CSS: css})
	if err != nil {
		return err
	}
	r, ok := resp.(Injected)
	if !ok {
		return unexpected(tab, TypeInjectCSS, resp)
	}
	if !r.Injected {
		return &ChannelError{Tab: tab, Request: TypeInjectCSS, Err: ErrNotConfirmed}
	}
	return nil
}

// RequestRemove dispatches RemoveStyles and reports whether an element was
// removed.
func RequestRemove(ctx context.Context, h Host, tab TabID) (bool, error) {
	resp, err := send(ctx, h, tab, RemoveStyles{})
	if err != nil {
		return false, err
	}
	r, ok := resp.(Removed)
	if !ok {
		return false, unexpected(tab, TypeRemoveStyles, resp)
	}
	return r.Removed, nil
}
