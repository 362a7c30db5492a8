package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailtm-go/internal/config"
	"github.com/nhle/mailtm-go/internal/credential"
	"github.com/nhle/mailtm-go/internal/mailbox"
	"github.com/nhle/mailtm-go/internal/store"
	"github.com/nhle/mailtm-go/mailtm"
)

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	// openSecrets opens the credential store; nil means the system keyring.
	openSecrets func(dir string) (credential.Store, error)

	cfg    *config.AppConfig
	logger *slog.Logger
	store  *store.SQLiteStore
	svc    *mailbox.Service
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

// rootCmd builds the command tree. Callers must call close once Execute
// returns; cobra skips post-run hooks when a command fails.
func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mailtm",
		Short:         "Disposable mailboxes on mail.tm from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigPath(), "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		a.domainsCmd(),
		a.registerCmd(),
		a.loginCmd(),
		a.accountsCmd(),
		a.syncCmd(),
		a.inboxCmd(),
		a.watchCmd(),
		a.readCmd(),
		a.sourceCmd(),
		a.attachmentsCmd(),
		a.downloadCmd(),
		a.rmCmd(),
		a.dropCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = setupLogger(cfg.Log.Level)
	slog.SetDefault(a.logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	a.store = st

	openSecrets := a.openSecrets
	if openSecrets == nil {
		openSecrets = func(dir string) (credential.Store, error) {
			return credential.Open(dir)
		}
	}
	secrets, err := openSecrets(filepath.Join(filepath.Dir(a.configPath), "credentials"))
	if err != nil {
		return err
	}

	opts, err := clientOptions(cfg.API)
	if err != nil {
		return err
	}
	a.svc = mailbox.New(st, secrets, a.logger, opts...)
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// execute runs the command tree and always releases the store.
func (a *app) execute(args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

// clientOptions turns the API section of the config into client options.
func clientOptions(api config.APIConfig) ([]mailtm.Option, error) {
	tr, err := mailtm.ProxyTransport(api.ProxyURL)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{
		Timeout:   time.Duration(api.TimeoutSec) * time.Second,
		Transport: tr,
	}
	return []mailtm.Option{
		mailtm.WithBaseURL(api.BaseURL),
		mailtm.WithHTTPClient(hc),
	}, nil
}

func setupLogger(levelName string) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch strings.ToLower(levelName) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openCurrent opens the configured mailbox with stored credentials.
func (a *app) openCurrent(cmd *cobra.Command) error {
	address := a.cfg.Account.Address
	if address == "" {
		return errors.New("no mailbox selected: run `mailtm register` or `mailtm login <address>`")
	}
	_, err := a.svc.Open(cmd.Context(), address, "")
	return err
}

// remember makes address the default mailbox for later commands.
func (a *app) remember(address string) error {
	a.cfg.Account.Address = address
	return config.SaveConfig(a.configPath, a.cfg)
}
