package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailtm-go/internal/config"
	"github.com/nhle/mailtm-go/internal/credential"
	"github.com/nhle/mailtm-go/mailtm"
)

func TestSetupLogger(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for name, want := range cases {
		logger := setupLogger(name)
		ctx := context.Background()
		assert.True(t, logger.Enabled(ctx, want), name)
		if want > slog.LevelDebug {
			assert.False(t, logger.Enabled(ctx, want-4), name)
		}
	}
}

func TestClientOptions(t *testing.T) {
	t.Parallel()

	opts, err := clientOptions(config.APIConfig{
		BaseURL:    "http://mail.test/",
		TimeoutSec: 5,
		ProxyURL:   "http://proxy.test:3128",
	})
	require.NoError(t, err)

	c := mailtm.NewClient(opts...)
	assert.Equal(t, "http://mail.test", c.BaseURL())

	_, err = clientOptions(config.APIConfig{BaseURL: "http://mail.test", TimeoutSec: 5, ProxyURL: "::bad"})
	assert.Error(t, err)
}

func TestValidateRequired(t *testing.T) {
	t.Parallel()

	v := validateRequired("Password")
	assert.EqualError(t, v("  "), "Password is required")
	assert.NoError(t, v("hunter2"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "ééé…", truncate("éééééé", 4))
}

func TestPrintDomains(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printDomains(&buf, []mailtm.Domain{
		{Domain: "open.test", IsActive: true},
		{Domain: "closed.test"},
		{Domain: "mine.test", IsActive: true, IsPrivate: true},
	})
	out := buf.String()
	assert.Contains(t, out, "open.test")
	assert.Contains(t, out, "public")
	assert.Contains(t, out, "inactive")
	assert.Contains(t, out, "private")

	buf.Reset()
	printDomains(&buf, nil)
	assert.Contains(t, buf.String(), "no domains")
}

func TestJoinRecipients(t *testing.T) {
	t.Parallel()

	got := joinRecipients([]mailtm.Recipient{
		{Name: "Alice", Address: "alice@x.test"},
		{Address: "bob@x.test"},
	})
	assert.Equal(t, "Alice <alice@x.test>, bob@x.test", got)
	assert.Empty(t, joinRecipients(nil))
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	for _, name := range []string{
		"domains", "register", "login", "accounts", "sync", "inbox", "watch",
		"read", "source", "attachments", "download", "rm", "drop",
	} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}

func TestExecute_ClosesStoreOnFailure(t *testing.T) {
	dir := t.TempDir()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer api.Close()

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := &config.AppConfig{
		API:   config.APIConfig{BaseURL: api.URL, TimeoutSec: 5},
		Store: config.StoreConfig{Path: filepath.Join(dir, "mailtm.db")},
		Log:   config.LogConfig{Level: "error"},
	}
	require.NoError(t, config.SaveConfig(cfgPath, cfg))

	a := &app{openSecrets: func(string) (credential.Store, error) {
		return credential.NewMemory(), nil
	}}
	err := a.execute([]string{"--config", cfgPath, "domains"})
	require.Error(t, err)
	assert.Nil(t, a.store, "store is released after a failing command")

	_, statErr := os.Stat(cfg.Store.Path)
	assert.NoError(t, statErr)
}
