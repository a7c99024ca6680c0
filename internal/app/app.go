package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"patientbot/internal/config"
	"patientbot/internal/httpx"
	"patientbot/internal/integrations/llm"
	slackbot "patientbot/internal/integrations/slack"
	"patientbot/internal/schedule"
	"patientbot/internal/session"
	"patientbot/internal/storage/sqlite"
	"patientbot/internal/storage/transcripts"
	"patientbot/internal/telephony"
)

const shutdownTimeout = 10 * time.Second

func Main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patientbot",
		Short: "Simulated patient caller for testing a voice agent",
		Long: `patientbot answers telephony webhooks as a simulated patient, records every
call as a transcript, and analyzes the recorded transcripts into a bug report.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newAnalyzeCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the telephony webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.LoadConfig())
		},
	}
}

func newAnalyzeCommand() *cobra.Command {
	var transcriptsDir, outputDir string
	var post bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze recorded transcripts and write a bug report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadAnalyzeConfig()
			if transcriptsDir != "" {
				cfg.TranscriptsDir = transcriptsDir
			}
			if outputDir != "" {
				cfg.ReportOutputDir = outputDir
			}
			httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)

			deps := AnalysisDeps{TranscriptsDir: cfg.TranscriptsDir, OutputDir: cfg.ReportOutputDir}
			if _, err := os.Stat(cfg.DBPath); err == nil {
				db, err := sqlite.InitDB(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("open call ledger: %w", err)
				}
				defer db.Close()
				deps.Ledger = db
			}
			if post {
				if !cfg.SlackConfigured() {
					return errors.New("--post requires slack_bot_token and report_channel_id")
				}
				deps.Uploader = slackbot.NewClient(cfg.SlackBotToken, httpx.Client())
				deps.ChannelID = cfg.ReportChannelID
			}

			out, err := RunAnalysis(cmd.Context(), deps)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Analyzed %d calls, %d findings, %d total issues\nReport: %s\n",
				out.Result.Trials, len(out.Result.Findings), out.Result.TotalIssues(), out.ReportPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&transcriptsDir, "transcripts", "", "Transcripts directory (default from transcripts_dir)")
	cmd.Flags().StringVar(&outputDir, "output", "", "Report output directory (default from report_output_dir)")
	cmd.Flags().BoolVar(&post, "post", false, "Upload the report to report_channel_id")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. PublicURL=%s Listen=%s MaxTurns=%d GeneratorAttempts=%d RetryBackoff=%s Timezone=%s ExternalHTTPTimeout=%s",
		cfg.PublicURL,
		cfg.ListenAddr,
		cfg.MaxTurns,
		cfg.GeneratorMaxAttempts,
		cfg.GeneratorRetryBackoff(),
		cfg.Timezone,
		appliedHTTPTimeout,
	)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()

	store, err := transcripts.NewStore(cfg.TranscriptsDir, db)
	if err != nil {
		return err
	}
	log.Printf("Transcripts dir: %s", store.Dir())

	generator := llm.NewAnthropicGenerator(llm.Options{
		APIKey:     cfg.AnthropicAPIKey,
		Model:      cfg.LLMModel,
		MaxTokens:  cfg.LLMMaxTokens,
		HTTPClient: httpx.Client(),
	})
	svc := session.NewService(session.NewRegistry(), generator, store, session.Options{
		MaxTurns:     cfg.MaxTurns,
		MaxAttempts:  cfg.GeneratorMaxAttempts,
		RetryBackoff: cfg.GeneratorRetryBackoff(),
	})
	server := telephony.NewServer(svc, store, db, telephony.Options{
		PublicURL: cfg.PublicURL,
		Voice:     cfg.Voice,
		Language:  cfg.Language,
	})

	var uploader slackbot.Uploader
	if cfg.SlackConfigured() {
		uploader = slackbot.NewClient(cfg.SlackBotToken, httpx.Client())
	}
	schedule.StartAnalysisScheduler(ctx, cfg.AnalysisSchedule, cfg.Location, func(ctx context.Context) error {
		_, err := RunAnalysis(ctx, AnalysisDeps{
			TranscriptsDir: store.Dir(),
			OutputDir:      cfg.ReportOutputDir,
			Ledger:         db,
			Uploader:       uploader,
			ChannelID:      cfg.ReportChannelID,
		})
		return err
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting patient bot on %s...", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Println("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	flushed := svc.FlushAll()
	usage := generator.Usage()
	log.Printf("Server stopped flushed_calls=%d tokens_in=%d tokens_out=%d", flushed, usage.InputTokens, usage.OutputTokens)
	return nil
}
