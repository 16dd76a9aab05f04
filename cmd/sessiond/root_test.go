package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/sessiond"
	"github.com/aretw0/sessiond/pkg/config"
	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestSessionCommands_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Store.Backend = sessiond.BackendRedis
	cfg.Redis.Addr = mr.Addr()

	ctx := context.Background()
	svc, err := sessiond.Open(ctx, cfg)
	require.NoError(t, err)
	defer svc.Close()
	require.NoError(t, svc.Storage.Add(ctx, &domain.Session{ID: "s1", UserID: 7, ContextID: 3, Login: "jdoe", Password: "secret"}))
	require.NoError(t, svc.Storage.Add(ctx, &domain.Session{ID: "s2", UserID: 7, ContextID: 3}))
	require.NoError(t, svc.Storage.Add(ctx, &domain.Session{ID: "s3", UserID: 8, ContextID: 3}))

	flags := []string{"--backend", "redis", "--redis-addr", mr.Addr()}
	with := func(args ...string) []string { return append(append([]string{}, args...), flags...) }

	assert.Equal(t, "3\n", run(t, with("session", "count")...))
	assert.Equal(t, "2\n", run(t, with("session", "count", "7", "3")...))

	out := run(t, with("session", "inspect", "s1")...)
	assert.Contains(t, out, `"login": "jdoe"`)
	assert.NotContains(t, out, "secret")

	assert.Contains(t, run(t, with("session", "ls")...), "jdoe")
	assert.Contains(t, run(t, with("session", "touch", "s1", "missing")...), "Touched 1 of 2")
	assert.Contains(t, run(t, with("session", "rm", "s3", "missing")...), "Removed 1 of 2")
	assert.Contains(t, run(t, with("session", "rm-user", "7", "3")...), "Removed 2 session(s)")
	assert.Equal(t, "0\n", run(t, with("session", "count")...))

	assert.Contains(t, run(t, with("stats")...), "Owned entries:  0")
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, "sessiond version "+sessiond.Version+"\n", run(t, "version"))
}

func TestParseUser(t *testing.T) {
	u, c, err := parseUser([]string{"7", "3"})
	require.NoError(t, err)
	assert.Equal(t, 7, u)
	assert.Equal(t, 3, c)

	_, _, err = parseUser([]string{"x", "3"})
	assert.ErrorContains(t, err, "invalid user id")
}

func TestOpenServiceReturnsEffectiveConfig(t *testing.T) {
	flags := rootCmd.PersistentFlags()
	for name, value := range map[string]string{"backend": "memory", "node": "node-z"} {
		require.NoError(t, flags.Set(name, value))
		t.Cleanup(func() { _ = flags.Set(name, "") })
	}

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	svc, cfg, err := openService(cmd)
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, "node-z", cfg.Store.Node)
	assert.Equal(t, ":9090", listenAddr(serveCmd, cfg))

	require.NoError(t, serveCmd.Flags().Set("listen", "127.0.0.1:7000"))
	t.Cleanup(func() { _ = serveCmd.Flags().Set("listen", "") })
	assert.Equal(t, "127.0.0.1:7000", listenAddr(serveCmd, cfg))
}
