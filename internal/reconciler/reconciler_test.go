package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"vibestyler/internal/agent"
	"vibestyler/internal/kv"
	"vibestyler/internal/metrics"
	"vibestyler/internal/styles"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	origin = "https://example.com/"
	page   = `<html><head></head><body><p>hi</p></body></html>`
)

func setup(t *testing.T) (*styles.Store, *agent.MemoryHost, agent.TabID) {
	t.Helper()
	store := styles.New(kv.NewMemory())
	host := agent.NewMemoryHost()
	tab, err := host.Open(origin, page)
	require.NoError(t, err)
	return store, host, tab
}

func TestEligible(t *testing.T) {
	tests := []struct {
		nav  agent.Navigation
		want bool
	}{
		{agent.Navigation{URL: "https://a.example/", TopLevel: true}, true},
		{agent.Navigation{URL: "http://a.example/x?y", TopLevel: true}, true},
		{agent.Navigation{URL: "https://a.example/", TopLevel: false}, false},
		{agent.Navigation{URL: "chrome://settings", TopLevel: true}, false},
		{agent.Navigation{URL: "file:///tmp/x.html", TopLevel: true}, false},
		{agent.Navigation{URL: "::bad", TopLevel: true}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Eligible(tt.nav), tt.nav.URL)
	}
}

func TestHandle_ReappliesActiveStyle(t *testing.T) {
	ctx := context.Background()
	store, host, tab := setup(t)
	_, err := store.AppendStyle(ctx, origin, "dark", "body{background:#000}")
	require.NoError(t, err)
	m := metrics.New()
	r := New(store, host, WithSettleDelay(0), WithMetrics(m))

	require.NoError(t, host.Navigate(tab, origin, page, true))
	got := r.Handle(ctx, agent.Navigation{Tab: tab, URL: origin, TopLevel: true})
	assert.Equal(t, ResultApplied, got)

	doc, _ := host.Document(tab)
	css, ok := doc.InjectedCSS()
	require.True(t, ok)
	assert.Equal(t, "body{background:#000}", css)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReapplyTotal.WithLabelValues(ResultApplied)))
}

func TestScenarioD_ClearedActiveIssuesNoInject(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, host, tab := setup(t)
	_, err := store.AppendStyle(ctx, origin, "dark", "body{}")
	require.NoError(t, err)
	require.NoError(t, store.ClearActive(ctx, origin))

	r := New(store, host, WithSettleDelay(0))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, host.Navigations()) }()

	require.NoError(t, host.Navigate(tab, origin, page, true))
	host.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not stop")
	}
	assert.NotContains(t, host.Calls(tab), agent.TypeInjectCSS)
}

func TestRun_AppliesToTabOpenedOnStyledOrigin(t *testing.T) {
	ctx := context.Background()
	store := styles.New(kv.NewMemory())
	_, err := store.AppendStyle(ctx, origin, "dark", "body{background:#000}")
	require.NoError(t, err)
	host := agent.NewMemoryHost()

	r := New(store, host, WithSettleDelay(0))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, host.Navigations()) }()

	tab, err := host.Load(origin, page)
	require.NoError(t, err)
	host.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not stop")
	}

	doc, ok := host.Document(tab)
	require.True(t, ok)
	css, injected := doc.InjectedCSS()
	require.True(t, injected, "opening a tab must reapply the origin's active style")
	assert.Equal(t, "body{background:#000}", css)
}

func TestRun_FiltersAndApplies(t *testing.T) {
	ctx := context.Background()
	store, host, tab := setup(t)
	_, err := store.AppendStyle(ctx, origin, "dark", "body{color:#fff}")
	require.NoError(t, err)
	r := New(store, host, WithSettleDelay(time.Millisecond))

	navs := make(chan agent.Navigation, 3)
	navs <- agent.Navigation{Tab: tab, URL: origin, TopLevel: false}
	navs <- agent.Navigation{Tab: tab, URL: "chrome://newtab/", TopLevel: true}
	navs <- agent.Navigation{Tab: tab, URL: origin, TopLevel: true}
	close(navs)

	require.NoError(t, r.Run(ctx, navs))
	assert.Equal(t, []agent.RequestType{agent.TypeInjectCSS}, host.Calls(tab))
}

func TestRun_StopsOnCancel(t *testing.T) {
	store, host, _ := setup(t)
	r := New(store, host)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, make(chan agent.Navigation))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandle_FailuresAreSilent(t *testing.T) {
	ctx := context.Background()
	store, host, tab := setup(t)
	_, err := store.AppendStyle(ctx, origin, "dark", "body{}")
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	r := New(store, host, WithSettleDelay(0), WithLogger(zap.New(core)))

	host.FailEnsure(tab, errors.New("Frame with ID 0 was removed"))
	got := r.Handle(ctx, agent.Navigation{Tab: tab, URL: origin, TopLevel: true})
	assert.Equal(t, ResultFailed, got)

	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.DebugLevel).FilterMessageSnippet("benign").Len())
	assert.Equal(t, 1, logs.FilterMessage("reapply failed").Len())
}

func TestHandle_NoSavedStyles(t *testing.T) {
	store, host, tab := setup(t)
	r := New(store, host, WithSettleDelay(0))
	got := r.Handle(context.Background(), agent.Navigation{Tab: tab, URL: "https://unknown.example/", TopLevel: true})
	assert.Equal(t, ResultSkipped, got)
	assert.Zero(t, host.EnsureCount())
}
