package pipeline

import (
	"errors"
	"fmt"

	"vibestyler/internal/agent"
	"vibestyler/internal/generator"
	"vibestyler/internal/styles"
)

// Stage is a state of the apply state machine.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageExtracting Stage = "extracting"
	StagePrompting  Stage = "prompting"
	StageGenerating Stage = "generating"
	StageParsing    Stage = "parsing"
	StagePersisting Stage = "persisting"
	StageInjecting  Stage = "injecting"
	StageDone       Stage = "done"
)

// Kind classifies a failure.
type Kind string

const (
	KindAgentUnavailable  Kind = "AgentUnavailable"
	KindChannelFailure    Kind = "ChannelFailure"
	KindCredentialMissing Kind = "CredentialMissing"
	KindGeneratorHTTP     Kind = "GeneratorHttpError"
	KindGeneratorParse    Kind = "GeneratorParseError"
	KindContentRejected   Kind = "GeneratedContentRejected"
	KindStorageFailure    Kind = "StorageFailure"
	KindNotFound          Kind = "NotFound"
	KindInvalidIntent     Kind = "InvalidIntent"
)

var (
	// ErrMissingTab is returned for intents that need a page but name none.
	ErrMissingTab = errors.New("missing target tab")
	// ErrMissingOrigin is returned for intents that need an origin but name none.
	ErrMissingOrigin = errors.New("missing url")
	// ErrClosed is returned once the coordinator stops accepting work.
	ErrClosed = errors.New("coordinator closed")
)

// StageError is the failure a stage produces.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// stageDefault is the kind of an error no rule recognizes, by stage.
var stageDefault = map[Stage]Kind{
	StageExtracting: KindChannelFailure,
	StageGenerating: KindGeneratorHTTP,
	StageParsing:    KindGeneratorParse,
	StagePersisting: KindStorageFailure,
	StageInjecting:  KindChannelFailure,
}

// Classify maps err to exactly one Kind. Errors no rule recognizes are
// ChannelFailure.
func Classify(err error) Kind {
	if k, ok := classify(err); ok {
		return k
	}
	return KindChannelFailure
}

func classify(err error) (Kind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}

	var (
		httpErr  *generator.HTTPError
		blocked  *generator.BlockedError
		rejected *generator.RejectedError
	)
	switch {
	case errors.Is(err, ErrMissingTab), errors.Is(err, ErrMissingOrigin), errors.Is(err, ErrClosed):
		return KindInvalidIntent, true
	case errors.Is(err, generator.ErrCredentialMissing):
		return KindCredentialMissing, true
	case errors.Is(err, generator.ErrCredentialUnavailable):
		return KindStorageFailure, true
	case errors.As(err, &httpErr):
		return KindGeneratorHTTP, true
	case errors.As(err, &blocked), errors.Is(err, generator.ErrMalformedResponse):
		return KindGeneratorParse, true
	case errors.As(err, &rejected), errors.Is(err, generator.ErrEmptyOutput):
		return KindContentRejected, true
	case errors.Is(err, styles.ErrNotFound):
		return KindNotFound, true
	case errors.Is(err, styles.ErrStorage), errors.Is(err, styles.ErrIDCollision):
		return KindStorageFailure, true
	case errors.Is(err, agent.ErrNoReceiver), errors.Is(err, agent.ErrRestricted), errors.Is(err, agent.ErrUnknownTab):
		return KindAgentUnavailable, true
	}
	var chErr *agent.ChannelError
	if errors.As(err, &chErr) {
		return KindChannelFailure, true
	}
	return "", false
}

func stageErr(stage Stage, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	kind, ok := classify(err)
	if !ok {
		kind = stageDefault[stage]
		if kind == "" {
			kind = KindChannelFailure
		}
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// userMessage renders a failure for the front end.
func userMessage(se *StageError) string {
	var (
		httpErr  *generator.HTTPError
		blocked  *generator.BlockedError
		rejected *generator.RejectedError
	)
	switch se.Kind {
	case KindInvalidIntent:
		return "Error: " + se.Err.Error()
	case KindCredentialMissing:
		return "Error: credential not configured"
	case KindStorageFailure:
		return "Error: storage error"
	case KindNotFound:
		return "Error: style not found"
	case KindContentRejected:
		if errors.As(se.Err, &rejected) {
			return rejected.Text
		}
		return "Error: generator returned no CSS"
	case KindGeneratorParse:
		if errors.As(se.Err, &blocked) {
			return "/* Gemini API Error: " + blocked.Reason + " */"
		}
		return "/* Error: Could not parse Gemini response */"
	case KindGeneratorHTTP:
		if errors.As(se.Err, &httpErr) {
			return fmt.Sprintf("Error during API call/processing: Error from Gemini API: %d", httpErr.Status)
		}
		return "Error during API call/processing: " + se.Err.Error()
	}
	if se.Stage == StageExtracting {
		return "Error extracting content: content extraction failed: " + se.Err.Error()
	}
	return "Error: " + se.Err.Error()
}
