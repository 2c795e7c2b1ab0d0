package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yangjarod117/webssh/internal/audit"
	"github.com/yangjarod117/webssh/internal/bridge"
	"github.com/yangjarod117/webssh/internal/config"
	"github.com/yangjarod117/webssh/internal/database"
	"github.com/yangjarod117/webssh/internal/handlers"
	"github.com/yangjarod117/webssh/internal/jobs"
	"github.com/yangjarod117/webssh/internal/logging"
	"github.com/yangjarod117/webssh/internal/remotefs"
	"github.com/yangjarod117/webssh/internal/sshsession"
	"github.com/yangjarod117/webssh/internal/transfer"
	"github.com/yangjarod117/webssh/internal/vault"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "webssh",
		Short:         "Browser-facing SSH terminal and file manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			config.Load()
		},
	}
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVaultCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				config.Cfg.ListenAddr = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides WEBSSH_LISTEN_ADDR)")
	return cmd
}

// openVault initializes the database and the credential vault over it.
func openVault() (*vault.Vault, error) {
	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("database init: %w", err)
	}
	cipher, err := vault.NewCipher(config.Cfg.EncryptionKey, config.Cfg.PreviousEncryptionKeys)
	if err != nil {
		database.Close()
		return nil, err
	}
	if cipher.Ephemeral() {
		log.Printf("WARNING: WEBSSH_ENCRYPTION_KEY is not set; stored credentials will not survive a restart")
	}
	return vault.New(database.DB, cipher), nil
}

func serve(ctx context.Context) error {
	cfg := config.Cfg

	logging.Init(cfg.LogPath)
	defer logging.Close()

	v, err := openVault()
	if err != nil {
		return err
	}
	defer database.Close()

	if n, err := v.Reconcile(); err != nil {
		log.Printf("WARNING: vault reconcile: %v", err)
	} else if n > 0 {
		log.Printf("Vault: synthesized %d saved connection(s)", n)
	}
	if cfg.ConnectionsImportFile != "" {
		n, err := v.ImportConnections(cfg.ConnectionsImportFile)
		if err != nil {
			log.Printf("WARNING: connection import: %v", err)
		} else {
			log.Printf("Imported %d connection(s) from %s", n, cfg.ConnectionsImportFile)
		}
	}

	dialer, err := sshsession.NewSSHDialer(cfg.HostKeyPolicy, cfg.KnownHostsPath)
	if err != nil {
		return err
	}
	mgrConfig := sshsession.DefaultConfig()
	mgrConfig.ConnectTimeout = cfg.ConnectTimeout
	mgrConfig.KeepaliveInterval = cfg.KeepaliveInterval
	mgrConfig.KeepaliveTimeout = cfg.KeepaliveTimeout
	mgr := sshsession.NewManager(dialer, mgrConfig)

	auditor := audit.New(database.DB, cfg.AuditRetentionDays)
	mgr.OnStatusChange(auditor.StatusHook())

	handlers.SessionMgr = mgr
	handlers.FS = remotefs.New(mgr)
	handlers.Transfers = transfer.New(mgr)
	handlers.Vault = v
	handlers.Auditor = auditor
	handlers.Terminal = bridge.New(mgr, bridge.Options{AllowedOrigins: cfg.AllowedOrigins})
	log.Printf("Session manager initialized (host_key_policy=%s, connect_timeout=%s, idle_timeout=%s)",
		cfg.HostKeyPolicy, cfg.ConnectTimeout, cfg.SessionIdleTimeout)

	scheduler, err := jobs.New(jobs.Config{IdleTimeout: cfg.SessionIdleTimeout}, mgr, auditor)
	if err != nil {
		return err
	}
	scheduler.Start()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handlers.NewRouter(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	scheduler.Stop(shutdownCtx)
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Printf("Session manager shutdown: %v", err)
	}
	log.Println("Server stopped")
	return runErr
}
