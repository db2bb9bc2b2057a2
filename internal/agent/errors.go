package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrRestricted means the page's scheme does not allow agents.
	ErrRestricted = errors.New("Cannot access contents of url")
	// ErrNoReceiver means no agent is listening in the page.
	ErrNoReceiver = errors.New("Could not establish connection. Receiving end does not exist.")
	// ErrUnknownTab means the host has no page with that id.
	ErrUnknownTab = errors.New("No tab with id")
	// ErrNoResponse means the agent answered with nothing.
	ErrNoResponse = errors.New("agent returned no response")
	// ErrUnexpectedResponse means the response kind does not match the request.
	ErrUnexpectedResponse = errors.New("unexpected response from agent")
	// ErrNotConfirmed means the agent did not confirm a style injection.
	ErrNotConfirmed = errors.New("content script did not confirm style injection")
)

// ChannelError is a failed delivery to (or reply from) a page agent.
type ChannelError struct {
	Tab     TabID
	Request RequestType
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("send %s to tab %s: %v", e.Request, e.Tab, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Severity classifies an install failure.
type Severity int

const (
	// SeverityNone means there was no failure.
	SeverityNone Severity = iota
	// SeverityBenign matches a known restricted-scheme or transient signature.
	SeverityBenign
	// SeverityUnclassified is any other failure. It does not abort either,
	// but is logged as a warning.
	SeverityUnclassified
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityBenign:
		return "benign"
	default:
		return "unclassified"
	}
}

// benignSignatures are message fragments of install failures that are
// expected: restricted schemes, frames gone mid-navigation, an agent that is
// already present, a stale receiver from an earlier install.
var benignSignatures = []string{
	"Cannot access contents of url",
	"Frame with ID",
	"Cannot create item with duplicate id",
	"Receiving end does not exist",
}

// ClassifyInstall maps an Ensure error to a Severity.
func ClassifyInstall(err error) Severity {
	if err == nil {
		return SeverityNone
	}
	if errors.Is(err, ErrRestricted) || errors.Is(err, ErrNoReceiver) {
		return SeverityBenign
	}
	msg := err.Error()
	for _, sig := range benignSignatures {
		if strings.Contains(msg, sig) {
			return SeverityBenign
		}
	}
	return SeverityUnclassified
}

// EnsurePresent installs the agent in tab and logs any failure by severity.
// It never aborts the caller: whether the page is usable is decided by the
// next dispatch.
func EnsurePresent(ctx context.Context, h Host, tab TabID, logger *zap.Logger) Severity {
	err := h.Ensure(ctx, tab)
	sev := ClassifyInstall(err)
	switch sev {
	case SeverityBenign:
		logger.Debug("agent install failed (benign)", zap.String("tab", string(tab)), zap.Error(err))
	case SeverityUnclassified:
		logger.Warn("agent install failed (unclassified)", zap.String("tab", string(tab)), zap.Error(err))
	}
	return sev
}
