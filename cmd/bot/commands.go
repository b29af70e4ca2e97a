package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"motoreg-bot/internal/analysis"
	"motoreg-bot/internal/backup"
	"motoreg-bot/internal/config"
	"motoreg-bot/internal/export"
	"motoreg-bot/internal/legacy"
	"motoreg-bot/internal/logging"
	"motoreg-bot/internal/models"
	"motoreg-bot/internal/race"
	"motoreg-bot/internal/ratelimit"
	"motoreg-bot/internal/server"
	"motoreg-bot/internal/sheets"
	"motoreg-bot/internal/store"
	"motoreg-bot/internal/tgbot"
)

const (
	mirrorInterval  = time.Minute
	backupInterval  = time.Hour
	shutdownTimeout = 10 * time.Second
)

var log = logging.For("cli")

// env is what every subcommand shares once config is loaded.
type env struct {
	cfg config.Config
}

func rootCommand() *cobra.Command {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:           "motoreg",
		Short:         "Motocross event registration and transponder check-in",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logging.Setup(cfg.LogLevel, cfg.LogFormat)
		e.cfg = cfg
		return nil
	}

	rootCmd.AddCommand(
		serveCommand(e),
		importLegacyCommand(e),
		exportCommand(e),
		backupCommand(e),
		restoreBackupCommand(e),
		sheetsSyncCommand(e),
	)
	return rootCmd
}

// open loads the database and builds the service on top of it. The caller
// closes the returned store.
func (e *env) open(ctx context.Context) (*store.Store, *race.Service, error) {
	db, err := store.OpenSQLite(e.cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(ctx, db, e.cfg.DefaultRaceName)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	svc := race.NewService(st, race.Options{UniqueAccessCodes: e.cfg.UniqueAccessCodes})
	return st, svc, nil
}

func serveCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, svc, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			ai, err := analysis.NewSummarizer(e.cfg)
			if err != nil {
				return err
			}
			limiter := ratelimit.Default()
			httpSrv := server.New(e.cfg, svc, ai, limiter)

			var botApp *tgbot.App
			if e.cfg.TelegramToken != "" {
				if botApp, err = tgbot.New(e.cfg, svc, analysis.NewRunner(ai), limiter); err != nil {
					return fmt.Errorf("telegram: %w", err)
				}
			} else {
				log.Warn("TELEGRAM_BOT_TOKEN not set, bot disabled")
			}

			var mirror *sheets.Mirror
			if e.cfg.SheetsEnabled() {
				client, err := sheets.New(ctx, e.cfg.GoogleServiceAccountJSON, e.cfg.SpreadsheetID)
				if err != nil {
					return fmt.Errorf("sheets: %w", err)
				}
				mirror = sheets.NewMirror(client, svc.Snapshot, mirrorInterval)
			}

			var snapshots *backup.Store
			if e.cfg.S3BackupBucket != "" {
				if snapshots, err = backup.New(ctx, e.cfg.S3BackupBucket); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				log.WithField("addr", e.cfg.HTTPAddr).Info("HTTP listening")
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return httpSrv.Shutdown(sctx)
			})
			if botApp != nil {
				g.Go(func() error {
					if err := botApp.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
						return fmt.Errorf("bot stopped: %w", err)
					}
					return nil
				})
			}
			if mirror != nil {
				g.Go(func() error { return mirror.Run(gctx) })
			}
			if snapshots != nil {
				g.Go(func() error { return runBackups(gctx, snapshots, svc) })
			}

			err = g.Wait()
			log.Info("bye")
			return err
		},
	}
}

// runBackups uploads a snapshot every backupInterval and once more on the
// way out.
func runBackups(ctx context.Context, b *backup.Store, svc *race.Service) error {
	t := time.NewTicker(backupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if _, err := b.Upload(fctx, svc.Snapshot()); err != nil {
				log.WithError(err).Warn("final backup failed")
			}
			return nil
		case <-t.C:
			if key, err := b.Upload(ctx, svc.Snapshot()); err != nil {
				log.WithError(err).Warn("backup failed")
			} else {
				log.WithField("key", key).Debug("backup uploaded")
			}
		}
	}
}

func importLegacyCommand(e *env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "import-legacy <dump.json>",
		Short: "Replace the database with a browser-storage dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := legacy.Read(f)
			if err != nil {
				return err
			}
			return e.replaceState(cmd, res.State, force, fmt.Sprintf("%d warning(s)", len(res.Warnings)))
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite a database that already has participants")
	return cmd
}

func restoreBackupCommand(e *env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore-backup",
		Short: "Replace the database with the latest S3 snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.S3BackupBucket == "" {
				return errors.New("S3_BACKUP_BUCKET is not set")
			}
			b, err := backup.New(cmd.Context(), e.cfg.S3BackupBucket)
			if err != nil {
				return err
			}
			snap, ok, err := b.Latest(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("no backup found")
			}
			return e.replaceState(cmd, snap, force, "from s3://"+e.cfg.S3BackupBucket)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite a database that already has participants")
	return cmd
}

func (e *env) replaceState(cmd *cobra.Command, next models.State, force bool, note string) error {
	st, svc, err := e.open(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	if n := len(svc.Snapshot().Participants); n > 0 && !force {
		return fmt.Errorf("database already has %d participants, use --force to overwrite", n)
	}
	if err := svc.Import(cmd.Context(), next); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d participants, %d entries, race %q (%s)\n",
		len(next.Participants), len(next.Entries), svc.RaceName(), note)
	return nil
}

func exportCommand(e *env) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:       "export <participants|race>",
		Short:     "Write the database or the live race as CSV or XLSX",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{server.ExportParticipants, server.ExportRace},
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			st, svc, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			data, filename, err := server.BuildExport(svc, args[0], f)
			if errors.Is(err, race.ErrNotFound) {
				return fmt.Errorf("unknown export %q", args[0])
			}
			if err != nil {
				return err
			}
			if out == "" {
				out = filename
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: the download filename)")
	return cmd
}

func backupCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload a gzip JSON snapshot to S3",
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.S3BackupBucket == "" {
				return errors.New("S3_BACKUP_BUCKET is not set")
			}
			st, svc, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			b, err := backup.New(cmd.Context(), e.cfg.S3BackupBucket)
			if err != nil {
				return err
			}
			key, err := b.Upload(cmd.Context(), svc.Snapshot())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "s3://%s/%s\n", e.cfg.S3BackupBucket, key)
			return nil
		},
	}
}

func sheetsSyncCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sheets-sync",
		Short: "Push the database and the live race to Google Sheets once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !e.cfg.SheetsEnabled() {
				return errors.New("GOOGLE_SHEETS_SPREADSHEET_ID is not set")
			}
			st, svc, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			client, err := sheets.New(cmd.Context(), e.cfg.GoogleServiceAccountJSON, e.cfg.SpreadsheetID)
			if err != nil {
				return err
			}
			return client.Sync(cmd.Context(), svc.Snapshot())
		},
	}
}
