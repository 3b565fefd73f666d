//go:build unix

package tunnel_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/botpanel-dev/bot-panel-backend/internal/tunnel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeCloudflared(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cloudflared")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func TestRunner_Run(t *testing.T) {
	bin := fakeCloudflared(t, `echo "INF |  https://fake-tunnel.trycloudflare.com  |" >&2
exec sleep 30
`)

	published := make(chan string, 1)
	r := &tunnel.Runner{
		Binary:   bin,
		LocalURL: "http://127.0.0.1:8080",
		URL:      tunnel.NewPublicURL(),
		OnPublish: func(_ context.Context, u string) {
			published <- u
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case u := <-published:
		assert.Equal(t, "https://fake-tunnel.trycloudflare.com", u)
	case <-time.After(5 * time.Second):
		t.Fatal("tunnel url was not published")
	}
	<-r.URL.Ready()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunner_RunExitWithoutURL(t *testing.T) {
	r := &tunnel.Runner{
		Binary:   fakeCloudflared(t, "echo failed to connect >&2\nexit 1\n"),
		LocalURL: "http://127.0.0.1:8080",
		URL:      tunnel.NewPublicURL(),
	}

	err := r.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "", r.URL.Get())
}

func TestRunner_RunMissingBinary(t *testing.T) {
	r := &tunnel.Runner{Binary: filepath.Join(t.TempDir(), "nope"), URL: tunnel.NewPublicURL()}
	assert.Error(t, r.Run(context.Background()))
}
