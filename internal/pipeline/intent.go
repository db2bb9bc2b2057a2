package pipeline

import "vibestyler/internal/agent"

// IntentKind names an Intent variant.
type IntentKind string

const (
	IntentApply       IntentKind = "apply"
	IntentSetActive   IntentKind = "set_active"
	IntentClearActive IntentKind = "clear_active"
	IntentDeleteSite  IntentKind = "delete_site"
	IntentDeleteAll   IntentKind = "delete_all"
	IntentRevert      IntentKind = "revert"
)

// Intent is one of Apply, SetActive, ClearActive, DeleteSite, DeleteAll or
// Revert.
type Intent interface {
	Kind() IntentKind
	isIntent()
}

// Apply generates a style for the page in Tab and makes it active. Origin is
// optional; when empty the URL reported by extraction is used.
type Apply struct {
	Prompt string
	Origin string
	Tab    agent.TabID
}

// SetActive selects a saved style, or none when StyleID is nil.
type SetActive struct {
	Origin  string
	Tab     agent.TabID
	StyleID *int64
}

// ClearActive deselects the active style.
type ClearActive struct {
	Origin string
	Tab    agent.TabID
}

// DeleteSite removes every style saved for Origin. Tab is optional.
type DeleteSite struct {
	Origin string
	Tab    agent.TabID
}

// DeleteAll removes every saved style.
type DeleteAll struct{}

// Revert removes the managed style element from the page in Tab without
// touching saved styles.
type Revert struct {
	Tab agent.TabID
}

func (Apply) Kind() IntentKind       { return IntentApply }
func (SetActive) Kind() IntentKind   { return IntentSetActive }
func (ClearActive) Kind() IntentKind { return IntentClearActive }
func (DeleteSite) Kind() IntentKind  { return IntentDeleteSite }
func (DeleteAll) Kind() IntentKind   { return IntentDeleteAll }
func (Revert) Kind() IntentKind      { return IntentRevert }

func (Apply) isIntent()       {}
func (SetActive) isIntent()   {}
func (ClearActive) isIntent() {}
func (DeleteSite) isIntent()  {}
func (DeleteAll) isIntent()   {}
func (Revert) isIntent()      {}

// AppliedStyle identifies the style an Apply created.
type AppliedStyle struct {
	ID     int64
	Prompt string
}

// Outcome is the single terminal result of an Intent.
type Outcome struct {
	IntentID string
	Intent   IntentKind
	Success  bool
	Message  string
	Applied  *AppliedStyle
	// Injected reports whether the page reflects the change. A successful
	// Outcome with Injected false is a partial success.
	Injected bool
	// Failure is set when Success is false.
	Failure Kind
}
