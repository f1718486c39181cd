package offline0_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline0/internal/offline0"
)

func TestNewWorker_InvalidConfig(t *testing.T) {
	cfg := offline0.DefaultConfig()
	_, err := offline0.NewWorker(cfg, offline0.NewMemoryStore(0, zerolog.Nop()), newFakeNetwork())
	require.Error(t, err)
}

func TestWorker_PassThrough(t *testing.T) {
	t.Run("non-GET", func(t *testing.T) {
		env := newWorkerEnv(t)
		req := env.request(t, "/api/contact", offline0.ModeOther)
		req.Method = http.MethodPost

		_, ok := env.fetch(t, req)
		assert.False(t, ok)
		assert.Zero(t, env.net.total.Load())
		names, err := env.store.Names(context.Background())
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("cross-origin", func(t *testing.T) {
		env := newWorkerEnv(t)
		req, err := offline0.NewRequest("https://fonts.example.com/inter.woff2", offline0.ModeOther)
		require.NoError(t, err)

		_, ok := env.fetch(t, req)
		assert.False(t, ok)
		assert.Zero(t, env.net.total.Load())
	})

	t.Run("bypass rule", func(t *testing.T) {
		env := newWorkerEnv(t, func(c *offline0.Config) {
			c.Rules = []offline0.Rule{{Match: "PathPrefix(/admin)", Bypass: true}}
		})
		_, ok := env.fetch(t, env.request(t, "/admin/users", offline0.ModeNavigate))
		assert.False(t, ok)

		_, ok = env.fetch(t, env.request(t, "/about", offline0.ModeNavigate))
		assert.True(t, ok)
	})

	t.Run("bypass cookie", func(t *testing.T) {
		env := newWorkerEnv(t, func(c *offline0.Config) {
			c.Rules = []offline0.Rule{{Match: "PathPrefix(/)", BypassWhenCookies: []string{"session"}}}
		})
		req := env.request(t, "/about", offline0.ModeNavigate)
		req.Header.Set("Cookie", "theme=dark; session=abc")
		_, ok := env.fetch(t, req)
		assert.False(t, ok)

		req = env.request(t, "/about", offline0.ModeNavigate)
		req.Header.Set("Cookie", "theme=dark")
		_, ok = env.fetch(t, req)
		assert.True(t, ok)
	})
}

func TestWorker_RuleStrategyOverride(t *testing.T) {
	env := newWorkerEnv(t, func(c *offline0.Config) {
		c.Rules = []offline0.Rule{
			{Match: "PathPrefix(/about)", Priority: 2, Strategy: "cache-first"},
			{Match: "PathPrefix(/about/team)", Priority: 1, Strategy: "network-first"},
		}
	})
	env.net.set("/about", http.StatusOK, "about")
	env.net.set("/about/team", http.StatusOK, "team")

	out, ok := env.fetch(t, env.request(t, "/about", offline0.ModeNavigate))
	require.True(t, ok)
	assert.Equal(t, offline0.StrategyCacheFirst, out.Strategy)
	_, cached := env.cached(t, env.cfg.StaticName(), "/about")
	assert.True(t, cached)

	out, ok = env.fetch(t, env.request(t, "/about/team", offline0.ModeNavigate))
	require.True(t, ok)
	assert.Equal(t, offline0.StrategyNetworkFirst, out.Strategy)
}

func TestWorker_UnknownEvent(t *testing.T) {
	env := newWorkerEnv(t)
	err := env.worker.Dispatch(context.Background(), offline0.NewEvent(context.Background(), "message"))
	assert.ErrorIs(t, err, offline0.ErrUnknownEvent)
}

func TestWorker_Scope(t *testing.T) {
	env := newWorkerEnv(t)
	assert.Equal(t, testOrigin+"/", env.worker.Scope().String())

	env.worker.Scope().Path = "/changed"
	assert.Equal(t, testOrigin+"/", env.worker.Scope().String())
}
