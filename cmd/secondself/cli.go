package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/easeaico/second-self/internal/agent"
	"github.com/easeaico/second-self/internal/config"
	"github.com/easeaico/second-self/internal/generation"
	"github.com/easeaico/second-self/internal/telemetry"
	"github.com/easeaico/second-self/internal/types"
)

type rootOptions struct {
	logLevel    string
	logFormat   string
	metricsAddr string
}

func buildRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "secondself",
		Short: "Chat with a persona rebuilt from someone's message history",
		Long: strings.TrimSpace(`secondself retrieves relevant messages of a persona with five
retrieval strategies, conditions a chat model on them and replies in the
persona's voice.

Configuration is read from the environment and an optional .env file.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger(opts.logLevel, opts.logFormat)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides METRICS_ADDR)")

	root.AddCommand(newChatCommand(opts))
	root.AddCommand(newIngestCommand(opts))
	root.AddCommand(newRefreshStyleCommand(opts))
	root.AddCommand(newBackfillCommand(opts))
	return root
}

// runEngine loads config, starts the metrics endpoint when configured and
// hands a ready engine to fn.
func runEngine(ctx context.Context, opts *rootOptions, fn func(context.Context, *agent.Engine) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}

	metrics := telemetry.New()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(metrics), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server stopped", "addr", cfg.MetricsAddr, "error", err.Error())
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	engine, cleanup, err := agent.NewEngineFromConfig(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, engine)
}

func metricsMux(metrics *telemetry.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var (
		personaID string
		chatID    string
		message   string
		noStream  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a persona",
		Long:  "Run an interactive chat with a persona, or send one message with --message.",
		Example: strings.Join([]string{
			"  secondself chat --persona alice",
			"  secondself chat --persona alice --message \"how was your day?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatID == "" {
				chatID = uuid.NewString()
			}
			return runEngine(cmd.Context(), opts, func(ctx context.Context, engine *agent.Engine) error {
				out := cmd.OutOrStdout()
				say := func(text string) error {
					turn := agent.Turn{PersonaID: personaID, ChatID: chatID, UserInput: text}
					if noStream {
						return replyOnce(ctx, engine, turn, out)
					}
					return replyStreaming(ctx, engine, turn, out)
				}
				if message != "" {
					return say(message)
				}
				return chatLoop(ctx, cmd.InOrStdin(), out, say)
			})
		},
	}

	cmd.Flags().StringVarP(&personaID, "persona", "p", "", "Persona id")
	cmd.Flags().StringVarP(&chatID, "chat", "c", "", "Chat id for transcript continuity (random when empty)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for the complete reply instead of streaming")
	_ = cmd.MarkFlagRequired("persona")
	return cmd
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, say func(string) error) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if err := say(line); err != nil {
			if errors.Is(err, types.ErrPersonaNotFound) || ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
}

func replyOnce(ctx context.Context, engine *agent.Engine, turn agent.Turn, out io.Writer) error {
	reply, err := engine.RetrieveAndGenerate(ctx, turn)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, reply.Text)
	return err
}

func replyStreaming(ctx context.Context, engine *agent.Engine, turn agent.Turn, out io.Writer) error {
	stream, _, err := engine.RetrieveAndGenerateStream(ctx, turn)
	if err != nil {
		return err
	}
	for chunk := range stream.Chunks() {
		fmt.Fprint(out, chunk)
	}
	if err := stream.Err(); err != nil && stream.Text() == "" {
		fmt.Fprint(out, generation.ApologyFor(err))
	}
	_, err = fmt.Fprintln(out)
	return err
}

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var (
		personaID string
		name      string
	)

	cmd := &cobra.Command{
		Use:   "ingest <messages.json>",
		Short: "Import normalized messages for a persona",
		Long: strings.TrimSpace(`Import a JSON array of {"sender","content","timestamp"} objects.
Blank and system messages are skipped, embeddings are computed and the
persona's style profile is refreshed. Use - to read from stdin.

With STORE_BACKEND=memory the imported persona lives only for this process;
a later chat or refresh-style command starts from an empty store. Use the
postgres backend to keep ingested personas.`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := readMessages(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runEngine(cmd.Context(), opts, func(ctx context.Context, engine *agent.Engine) error {
				res, err := engine.Ingest(ctx, personaID, name, msgs)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "persona %s: %d inserted, %d skipped (fallback embeddings: %t)\n",
					res.PersonaID, res.Inserted, res.Skipped, res.MockEmbeddings)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&personaID, "persona", "p", "", "Persona id")
	cmd.Flags().StringVar(&name, "name", "", "Persona display name (inferred from senders when empty)")
	_ = cmd.MarkFlagRequired("persona")
	return cmd
}

func readMessages(path string, stdin io.Reader) ([]types.Message, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open messages file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var msgs []types.Message
	if err := json.NewDecoder(r).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}

func newRefreshStyleCommand(opts *rootOptions) *cobra.Command {
	var personaID string

	cmd := &cobra.Command{
		Use:   "refresh-style",
		Short: "Recompute a persona's style profile and conversation patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), opts, func(ctx context.Context, engine *agent.Engine) error {
				profile, err := engine.RefreshPersonaStyle(ctx, personaID)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(profile)
			})
		},
	}

	cmd.Flags().StringVarP(&personaID, "persona", "p", "", "Persona id")
	_ = cmd.MarkFlagRequired("persona")
	return cmd
}

func newBackfillCommand(opts *rootOptions) *cobra.Command {
	var (
		personaID string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "backfill-embeddings",
		Short: "Embed stored messages that have no vector yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context(), opts, func(ctx context.Context, engine *agent.Engine) error {
				filled, err := engine.BackfillEmbeddings(ctx, personaID, batchSize)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "persona %s: %d embeddings filled\n", personaID, filled)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&personaID, "persona", "p", "", "Persona id")
	cmd.Flags().IntVar(&batchSize, "batch", 100, "Messages per embedding round")
	_ = cmd.MarkFlagRequired("persona")
	return cmd
}
