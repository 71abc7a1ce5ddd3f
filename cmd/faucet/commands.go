package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/circuitbreaker"
	"github.com/aman-churiwal/octra-faucet/internal/config"
	"github.com/aman-churiwal/octra-faucet/internal/logging"
	"github.com/aman-churiwal/octra-faucet/internal/octra"
	"github.com/aman-churiwal/octra-faucet/internal/server"
	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/aman-churiwal/octra-faucet/internal/transaction"
	"github.com/aman-churiwal/octra-faucet/internal/upstream"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func rootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "faucet",
		Short:         "Octra testnet faucet",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to the YAML or JSON config file")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		a.serveCmd(),
		a.migrateCmd(),
		a.treasuryCmd(),
		a.keycheckCmd(),
	)
	return root
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the faucet HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	redis, err := storage.NewRedis(a.cfg.Redis.GetRedisAddr(), a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer redis.Close()
	a.logger.Info("connected to redis", zap.String("addr", a.cfg.Redis.GetRedisAddr()))

	postgres, err := a.openDatabase()
	if err != nil {
		return err
	}
	defer postgres.Close()

	if err := postgres.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	srv, err := server.New(a.cfg, redis, postgres, a.logger)
	if err != nil {
		return err
	}
	if err := srv.EnsureAdmin(ctx); err != nil {
		return err
	}
	srv.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(":" + a.cfg.Server.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		a.logger.Info("signal received", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		if runErr != nil {
			a.logger.Error("server stopped", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}

	a.logger.Info("server exited")
	return runErr
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			postgres, err := a.openDatabase()
			if err != nil {
				return err
			}
			defer postgres.Close()

			if err := postgres.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.logger.Info("database schema up to date")
			return nil
		},
	}
}

func (a *app) treasuryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "treasury",
		Short: "Print the faucet wallet's balance and nonce",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Faucet.Address == "" {
				return errors.New("FAUCET_ADDRESS is required")
			}

			pool, err := upstream.NewPool(upstream.PoolConfig{
				Nodes:    a.cfg.RPC.URLs,
				Strategy: a.cfg.RPC.Strategy,
			}, a.logger)
			if err != nil {
				return err
			}
			breaker := circuitbreaker.New(circuitbreaker.Config{Name: "octra-rpc"})
			client := octra.NewClient(octra.ClientConfig{
				Treasury:    a.cfg.Faucet.Address,
				ReadTimeout: a.cfg.RPC.ReadTimeout,
			}, pool, breaker, a.logger)

			info, err := client.FetchAddressInfo(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address: %s\n", info.Address)
			fmt.Fprintf(out, "balance: %s\n", info.Balance.String())
			fmt.Fprintf(out, "nonce:   %d\n", info.Nonce)

			if amount, err := a.cfg.Faucet.DisbursementAmount(); err == nil {
				fmt.Fprintf(out, "claims:  %s remaining at %s each\n",
					info.Balance.Div(amount).Floor().String(), amount.String())
			}
			return nil
		},
	}
}

func (a *app) keycheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keycheck",
		Short: "Verify the faucet key pair signs transactions the node will accept",
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := transaction.NewSigner(a.cfg.Faucet.PrivateKey, a.cfg.Faucet.PublicKey)
			if err != nil {
				return err
			}

			// Self-transfer; it is only signed and verified locally, never sent.
			tx, err := signer.Build(a.cfg.Faucet.Address, a.cfg.Faucet.Address, decimal.NewFromInt(1), 1)
			if err != nil {
				return err
			}
			if err := transaction.Verify(tx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "public key: %s\n", signer.PublicKeyBase64())
			fmt.Fprintln(out, "key pair OK")
			if a.cfg.Faucet.Address != "" && !octra.IsValidAddress(a.cfg.Faucet.Address) {
				fmt.Fprintf(out, "warning: FAUCET_ADDRESS %q is not a valid Octra address\n", a.cfg.Faucet.Address)
			}
			return nil
		},
	}
}

func (a *app) openDatabase() (*storage.Postgres, error) {
	return storage.NewPostgres(a.cfg.Database.DSN, storage.PostgresOptions{
		MaxIdleConns:    a.cfg.Database.MaxIdleConns,
		MaxOpenConns:    a.cfg.Database.MaxOpenConns,
		ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
	})
}
