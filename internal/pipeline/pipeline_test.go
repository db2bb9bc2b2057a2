package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"vibestyler/internal/agent"
	"vibestyler/internal/generator"
	"vibestyler/internal/kv"
	"vibestyler/internal/metrics"
	"vibestyler/internal/styles"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const (
	origin = "https://example.com"
	page   = `<html><head><style>body{color:black}</style></head><body><h1>Example</h1></body></html>`
	dark   = "body{background:#111;color:#eee}"
)

type fixture struct {
	coord *Coordinator
	store *styles.Store
	mem   *kv.Memory
	host  *agent.MemoryHost
	tab   agent.TabID
	m     *metrics.Metrics
}

func newFixture(t *testing.T, gen generator.Generator) *fixture {
	t.Helper()
	mem := kv.NewMemory()
	store := styles.New(mem)
	host := agent.NewMemoryHost()
	tab, err := host.Open(origin, page)
	require.NoError(t, err)
	m := metrics.New()
	coord := NewCoordinator(store, host, gen, WithMetrics(m))
	t.Cleanup(func() {
		require.NoError(t, coord.Close(context.Background()))
		host.Close()
	})
	return &fixture{coord: coord, store: store, mem: mem, host: host, tab: tab, m: m}
}

func fixed(text string) generator.Generator {
	return generator.Func(func(context.Context, string) (string, error) { return text, nil })
}

func failing(err error) generator.Generator {
	return generator.Func(func(context.Context, string) (string, error) { return "", err })
}

func (f *fixture) injected(t *testing.T) (string, bool) {
	t.Helper()
	doc, ok := f.host.Document(f.tab)
	require.True(t, ok)
	return doc.InjectedCSS()
}

func TestApply_ScenarioA_Success(t *testing.T) {
	ctx := context.Background()
	var seen string
	f := newFixture(t, generator.Func(func(_ context.Context, prompt string) (string, error) {
		seen = prompt
		return "```css\n" + dark + "\n```", nil
	}))

	o := f.coord.Apply(ctx, Apply{Prompt: "dark mode", Tab: f.tab})
	require.True(t, o.Success, o.Message)
	assert.True(t, o.Injected)
	require.NotNil(t, o.Applied)
	assert.Equal(t, "dark mode", o.Applied.Prompt)
	assert.Equal(t, "Styles applied and saved successfully!", o.Message)
	assert.NotEmpty(t, o.IntentID)

	e, err := f.store.GetSite(ctx, origin)
	require.NoError(t, err)
	require.NotNil(t, e.ActiveStyleID)
	assert.Equal(t, o.Applied.ID, *e.ActiveStyleID)
	require.Len(t, e.Styles, 1)
	assert.Equal(t, dark, e.Styles[0].CSS)

	css, ok := f.injected(t)
	require.True(t, ok)
	assert.Equal(t, dark, css)

	assert.Contains(t, seen, `User Request: "dark mode"`)
	assert.Contains(t, seen, "<h1>Example</h1>")
	assert.Contains(t, seen, "body{color:black}")
	assert.Equal(t, []agent.RequestType{agent.TypeExtractContent, agent.TypeInjectCSS}, f.host.Calls(f.tab))
}

func TestApply_ScenarioB_SentinelLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed(generator.SentinelUnable))
	_, err := f.store.AppendStyle(ctx, origin, "earlier", "a{}")
	require.NoError(t, err)
	before, err := f.store.GetSite(ctx, origin)
	require.NoError(t, err)

	o := f.coord.Apply(ctx, Apply{Prompt: "make it taste like purple", Tab: f.tab})
	assert.False(t, o.Success)
	assert.Equal(t, KindContentRejected, o.Failure)
	assert.Equal(t, generator.SentinelUnable, o.Message)
	assert.Nil(t, o.Applied)

	after, err := f.store.GetSite(ctx, origin)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NotContains(t, f.host.Calls(f.tab), agent.TypeInjectCSS)
}

func TestApply_ScenarioC_ConcurrentSameOrigin(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	f := newFixture(t, generator.Func(func(_ context.Context, prompt string) (string, error) {
		started.Done()
		<-release
		if strings.Contains(prompt, `User Request: "first"`) {
			return "a{color:red}", nil
		}
		return "b{color:blue}", nil
	}))
	tab2, err := f.host.Open(origin, page)
	require.NoError(t, err)

	outcomes := make([]Outcome, 2)
	var g errgroup.Group
	g.Go(func() error {
		outcomes[0] = f.coord.Apply(ctx, Apply{Prompt: "first", Tab: f.tab})
		return nil
	})
	g.Go(func() error {
		outcomes[1] = f.coord.Apply(ctx, Apply{Prompt: "second", Tab: tab2})
		return nil
	})
	started.Wait()
	close(release)
	require.NoError(t, g.Wait())

	for _, o := range outcomes {
		require.True(t, o.Success, o.Message)
	}
	e, err := f.store.GetSite(ctx, origin)
	require.NoError(t, err)
	require.Len(t, e.Styles, 2)
	prompts := []string{e.Styles[0].Prompt, e.Styles[1].Prompt}
	assert.ElementsMatch(t, []string{"first", "second"}, prompts)
	assert.NotEqual(t, e.Styles[0].ID, e.Styles[1].ID)
}

func TestApply_StorageFailureSkipsInject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed(dark))
	f.mem.InjectFault(kv.OpSet, errors.New("quota exceeded"))

	o := f.coord.Apply(ctx, Apply{Prompt: "dark mode", Tab: f.tab})
	assert.False(t, o.Success)
	assert.Equal(t, KindStorageFailure, o.Failure)
	assert.Equal(t, "Error: storage error", o.Message)
	assert.Equal(t, []agent.RequestType{agent.TypeExtractContent}, f.host.Calls(f.tab))
	_, ok := f.injected(t)
	assert.False(t, ok)
}

func TestApply_InjectFailureIsPartialSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed(dark))
	f.host.FailDispatch(f.tab, agent.TypeInjectCSS, errors.New("port closed"))

	o := f.coord.Apply(ctx, Apply{Prompt: "dark mode", Tab: f.tab})
	assert.True(t, o.Success)
	assert.False(t, o.Injected)
	assert.NotEqual(t, "Styles applied and saved successfully!", o.Message)
	assert.Contains(t, o.Message, "Styles saved")

	e, err := f.store.GetSite(ctx, origin)
	require.NoError(t, err)
	require.NotNil(t, e.ActiveStyleID)
	assert.Equal(t, o.Applied.ID, *e.ActiveStyleID)
}

func TestApply_Failures(t *testing.T) {
	tests := []struct {
		name    string
		gen     generator.Generator
		setup   func(f *fixture)
		kind    Kind
		message string
	}{
		{
			name:    "credential missing",
			gen:     failing(generator.ErrCredentialMissing),
			kind:    KindCredentialMissing,
			message: "Error: credential not configured",
		},
		{
			name:    "http status",
			gen:     failing(&generator.HTTPError{Status: 500}),
			kind:    KindGeneratorHTTP,
			message: "Error during API call/processing: Error from Gemini API: 500",
		},
		{
			name:    "network",
			gen:     failing(errors.New("dial tcp: connection refused")),
			kind:    KindGeneratorHTTP,
			message: "Error during API call/processing: dial tcp: connection refused",
		},
		{
			name:    "blocked",
			gen:     failing(&generator.BlockedError{Reason: "SAFETY"}),
			kind:    KindGeneratorParse,
			message: "/* Gemini API Error: SAFETY */",
		},
		{
			name:    "malformed",
			gen:     failing(generator.ErrMalformedResponse),
			kind:    KindGeneratorParse,
			message: "/* Error: Could not parse Gemini response */",
		},
		{
			name:    "empty output",
			gen:     fixed("```css\n```"),
			kind:    KindContentRejected,
			message: "Error: generator returned no CSS",
		},
		{
			name: "restricted page",
			gen:  fixed(dark),
			setup: func(f *fixture) {
				f.host.FailEnsure(f.tab, fmt.Errorf("%w %q", agent.ErrRestricted, "chrome://newtab"))
				f.host.FailDispatch(f.tab, agent.TypeExtractContent, agent.ErrNoReceiver)
			},
			kind: KindAgentUnavailable,
		},
		{
			name: "extract channel failure",
			gen:  fixed(dark),
			setup: func(f *fixture) {
				f.host.FailDispatch(f.tab, agent.TypeExtractContent, errors.New("message port closed"))
			},
			kind: KindChannelFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.gen)
			if tt.setup != nil {
				tt.setup(f)
			}
			o := f.coord.Apply(context.Background(), Apply{Prompt: "dark mode", Tab: f.tab})
			assert.False(t, o.Success)
			assert.Equal(t, tt.kind, o.Failure)
			if tt.message != "" {
				assert.Equal(t, tt.message, o.Message)
			}
			e, err := f.store.GetSite(context.Background(), origin)
			require.NoError(t, err)
			assert.Empty(t, e.Styles)
		})
	}
}

func TestApply_UnclassifiedInstallFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t, fixed(dark))
	require.NoError(t, f.host.Ensure(context.Background(), f.tab))
	f.host.FailEnsure(f.tab, errors.New("something odd"))

	o := f.coord.Apply(context.Background(), Apply{Prompt: "dark mode", Tab: f.tab})
	assert.True(t, o.Success, o.Message)
	assert.True(t, o.Injected)
}

func TestApply_ExplicitOriginWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed(dark))
	o := f.coord.Apply(ctx, Apply{Prompt: "dark mode", Origin: "https://other.example/page", Tab: f.tab})
	require.True(t, o.Success)

	e, err := f.store.GetSite(ctx, "https://other.example/page")
	require.NoError(t, err)
	assert.Len(t, e.Styles, 1)
	e, err = f.store.GetSite(ctx, origin)
	require.NoError(t, err)
	assert.Empty(t, e.Styles)
}

func TestDispatch_ApplyAcksThenBroadcasts(t *testing.T) {
	f := newFixture(t, fixed(dark))
	sub, cancel := f.coord.Broadcaster().Subscribe()
	defer cancel()

	reply := f.coord.Dispatch(context.Background(), Apply{Prompt: "dark mode", Tab: f.tab})
	assert.Equal(t, AckReceived, reply.Status)
	assert.Nil(t, reply.Outcome)

	select {
	case o := <-sub:
		assert.True(t, o.Success)
		assert.Equal(t, IntentApply, o.Intent)
		require.NotNil(t, o.Applied)
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome broadcast")
	}
}

func TestDispatch_ApplyMissingTab(t *testing.T) {
	f := newFixture(t, fixed(dark))
	sub, cancel := f.coord.Broadcaster().Subscribe()
	defer cancel()

	reply := f.coord.Dispatch(context.Background(), Apply{Prompt: "dark mode"})
	require.NotNil(t, reply.Outcome)
	assert.False(t, reply.Outcome.Success)
	assert.Equal(t, KindInvalidIntent, reply.Outcome.Failure)
	assert.Equal(t, "Error: missing target tab", reply.Outcome.Message)

	o := <-sub
	assert.Equal(t, reply.Outcome.IntentID, o.IntentID)
}

func TestDispatch_ApplyAfterClose(t *testing.T) {
	f := newFixture(t, fixed(dark))
	require.NoError(t, f.coord.Close(context.Background()))
	reply := f.coord.Dispatch(context.Background(), Apply{Prompt: "x", Tab: f.tab})
	require.NotNil(t, reply.Outcome)
	assert.Equal(t, KindInvalidIntent, reply.Outcome.Failure)
}

func TestDispatch_ApplyBroadcastWithoutSubscribers(t *testing.T) {
	f := newFixture(t, fixed(dark))
	reply := f.coord.Dispatch(context.Background(), Apply{Prompt: "dark mode", Tab: f.tab})
	assert.Equal(t, AckReceived, reply.Status)
	require.NoError(t, f.coord.Close(context.Background()))

	e, err := f.store.GetSite(context.Background(), origin)
	require.NoError(t, err)
	assert.Len(t, e.Styles, 1)
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed(dark))
	first, err := f.store.AppendStyle(ctx, origin, "one", "a{color:red}")
	require.NoError(t, err)
	_, err = f.store.AppendStyle(ctx, origin, "two", "a{color:blue}")
	require.NoError(t, err)

	reply := f.coord.Dispatch(ctx, SetActive{Origin: origin, Tab: f.tab, StyleID: styles.IDPtr(first.ID)})
	require.NotNil(t, reply.Outcome)
	o := *reply.Outcome
	require.True(t, o.Success, o.Message)
	assert.True(t, o.Injected)
	assert.Equal(t, &AppliedStyle{ID: first.ID, Prompt: "one"}, o.Applied)
	css, ok := f.injected(t)
	require.True(t, ok)
	assert.Equal(t, "a{color:red}", css)

	o = f.coord.SetActive(ctx, SetActive{Origin: origin, Tab: f.tab, StyleID: styles.IDPtr(42)})
	assert.False(t, o.Success)
	assert.Equal(t, KindNotFound, o.Failure)
	assert.Equal(t, "Error: style not found", o.Message)

	o = f.coord.SetActive(ctx, SetActive{Origin: origin, Tab: f.tab})
	require.True(t, o.Success)
	_, ok = f.injected(t)
	assert.False(t, ok)
	e, err := f.store.GetSite(ctx, origin)
	require.NoError(t, err)
	assert.Nil(t, e.ActiveStyleID)
}

func TestSetActive_PageFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed(dark))
	rec, err := f.store.AppendStyle(ctx, origin, "one", "a{}")
	require.NoError(t, err)
	require.NoError(t, f.store.ClearActive(ctx, origin))
	f.host.FailDispatch(f.tab, agent.TypeInjectCSS, errors.New("gone"))

	o := f.coord.SetActive(ctx, SetActive{Origin: origin, Tab: f.tab, StyleID: styles.IDPtr(rec.ID)})
	assert.True(t, o.Success)
	assert.False(t, o.Injected)

	e, err := f.store.GetSite(ctx, origin)
	require.NoError(t, err)
	assert.Equal(t, styles.IDPtr(rec.ID), e.ActiveStyleID)
}

// racingKV removes the blob right after each armed update commits, standing
// in for another writer that deletes the site in that window.
type racingKV struct {
	*kv.Memory
	armed bool
}

func (r *racingKV) Update(ctx context.Context, key string, fn kv.UpdateFunc) error {
	if err := r.Memory.Update(ctx, key, fn); err != nil {
		return err
	}
	if r.armed {
		return r.Memory.Remove(ctx, key)
	}
	return nil
}

func TestSetActive_UsesRecordFromCommittedUpdate(t *testing.T) {
	ctx := context.Background()
	backend := &racingKV{Memory: kv.NewMemory()}
	store := styles.New(backend)
	host := agent.NewMemoryHost()
	defer host.Close()
	tab, err := host.Open(origin, page)
	require.NoError(t, err)
	coord := NewCoordinator(store, host, fixed(dark))
	defer func() { require.NoError(t, coord.Close(ctx)) }()

	rec, err := store.AppendStyle(ctx, origin, "one", "a{color:red}")
	require.NoError(t, err)
	require.NoError(t, store.ClearActive(ctx, origin))
	backend.armed = true

	o := coord.SetActive(ctx, SetActive{Origin: origin, Tab: tab, StyleID: styles.IDPtr(rec.ID)})
	require.True(t, o.Success, o.Message)
	assert.Equal(t, &AppliedStyle{ID: rec.ID, Prompt: "one"}, o.Applied)
	assert.True(t, o.Injected)

	doc, ok := host.Document(tab)
	require.True(t, ok)
	css, injected := doc.InjectedCSS()
	require.True(t, injected)
	assert.Equal(t, "a{color:red}", css)
}

func TestClearActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed(dark))
	o := f.coord.Apply(ctx, Apply{Prompt: "dark mode", Tab: f.tab})
	require.True(t, o.Success)

	o = f.coord.ClearActive(ctx, ClearActive{Origin: origin, Tab: f.tab})
	require.True(t, o.Success)
	assert.True(t, o.Injected)
	_, ok := f.injected(t)
	assert.False(t, ok)

	o = f.coord.ClearActive(ctx, ClearActive{Origin: origin, Tab: f.tab})
	assert.True(t, o.Success, "clearing twice is a successful no-op")

	o = f.coord.ClearActive(ctx, ClearActive{Tab: f.tab})
	assert.Equal(t, KindInvalidIntent, o.Failure)
}

func TestDeleteSiteAndAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed(dark))
	_, err := f.store.AppendStyle(ctx, origin, "one", "a{}")
	require.NoError(t, err)
	_, err = f.store.AppendStyle(ctx, "https://b.example", "two", "b{}")
	require.NoError(t, err)

	o := f.coord.DeleteSite(ctx, DeleteSite{Origin: origin})
	require.True(t, o.Success)
	assert.Equal(t, "Styles deleted for https://example.com.", o.Message)
	assert.False(t, o.Injected)

	o = f.coord.DeleteSite(ctx, DeleteSite{Origin: origin})
	require.True(t, o.Success)
	assert.Equal(t, "Nothing to delete for https://example.com.", o.Message)

	o = f.coord.DeleteAll(ctx)
	require.True(t, o.Success)
	sites, err := f.store.Sites(ctx)
	require.NoError(t, err)
	assert.Empty(t, sites)

	f.mem.InjectFault(kv.OpRemove, errors.New("locked"))
	o = f.coord.DeleteAll(ctx)
	assert.Equal(t, KindStorageFailure, o.Failure)
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixed(dark))
	require.True(t, f.coord.Apply(ctx, Apply{Prompt: "dark mode", Tab: f.tab}).Success)

	o := f.coord.Revert(ctx, Revert{Tab: f.tab})
	require.True(t, o.Success)
	assert.Equal(t, "Styles removed.", o.Message)
	o = f.coord.Revert(ctx, Revert{Tab: f.tab})
	require.True(t, o.Success)
	assert.Equal(t, "No styles to remove.", o.Message)

	e, err := f.store.GetSite(ctx, origin)
	require.NoError(t, err)
	assert.NotNil(t, e.ActiveStyleID, "revert leaves saved state alone")

	o = f.coord.Revert(ctx, Revert{})
	assert.Equal(t, KindInvalidIntent, o.Failure)
}

func TestApply_Metrics(t *testing.T) {
	f := newFixture(t, fixed(dark))
	f.coord.Apply(context.Background(), Apply{Prompt: "dark mode", Tab: f.tab})
	f.mem.InjectFault(kv.OpSet, errors.New("full"))
	f.coord.Apply(context.Background(), Apply{Prompt: "dark mode", Tab: f.tab})

	count := func(labels ...string) float64 {
		return testutilValue(t, f.m, labels...)
	}
	assert.Equal(t, 1.0, count("intent", "apply", "success"))
	assert.Equal(t, 1.0, count("intent", "apply", "failure"))
	assert.Equal(t, 1.0, count("stage", "persisting", "StorageFailure"))
}
