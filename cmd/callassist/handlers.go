package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gl-pgege/gl-fraud-mobile/internal/config"
	"github.com/gl-pgege/gl-fraud-mobile/internal/gateway"
	"github.com/gl-pgege/gl-fraud-mobile/internal/journal"
	"github.com/gl-pgege/gl-fraud-mobile/internal/observability"
	"github.com/gl-pgege/gl-fraud-mobile/internal/routing"
	"github.com/gl-pgege/gl-fraud-mobile/internal/voice"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, starts the server and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	logger.Info("starting callassist",
		"version", version,
		"commit", commit,
		"config", configPath,
		"topology", cfg.Conversation.Topology,
		"gate_mode", cfg.Conversation.GateMode,
		"gather_loop", cfg.Conversation.GatherLoop,
		"journal", cfg.Journal.Enabled,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	if err := a.server.Start(ctx); err != nil {
		_ = a.shutdown(context.Background())
		return err
	}
	go a.pruneSessions(ctx, time.Minute)

	logger.Info("callassist started", "addr", a.server.Addr(), "public_url", cfg.Server.PublicURL)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("callassist stopped")
	return nil
}

// =============================================================================
// Call Command Handlers
// =============================================================================

func runVoices(cmd *cobra.Command, configPath string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	synth, err := newSynthesizer(cfg)
	if err != nil {
		return err
	}
	voices, err := synth.ListVoices(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, voices)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, v := range voices {
		marker := ""
		if v.ID == cfg.ElevenLabs.DefaultVoiceID {
			marker = " (default)"
		}
		fmt.Fprintf(w, "%s\t%s%s\n", v.ID, v.Name, marker)
	}
	return w.Flush()
}

type dialOptions struct {
	Operator  string
	To        string
	Recipient string
	VoiceID   string
}

// runDial calls the operator with the same instructions an app-initiated
// call gets, and in conference topology dials the recipient into the
// conference as well.
func runDial(cmd *cobra.Command, configPath string, opts dialOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Server.PublicURL == "" {
		return errors.New("server.public_url is required so the call can reach the webhooks")
	}
	if cfg.Twilio.CallerID == "" {
		return errors.New("twilio.caller_id is required to place outbound calls")
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.VoiceID != "" {
		if err := selectRemoteVoice(ctx, cfg.PublicURLFor(gateway.PathSetVoice), opts.VoiceID); err != nil {
			return err
		}
		fmt.Fprintf(out, "Selected voice %s\n", opts.VoiceID)
	}

	postDialURL := ""
	if cfg.Conversation.GatherLoop {
		postDialURL = cfg.PublicURLFor(gateway.PathPostDial)
	}
	decider, err := routing.NewDecider(routing.Config{
		CallerID:          cfg.Twilio.CallerID,
		Topology:          routing.Topology(cfg.Conversation.Topology),
		ConferenceName:    cfg.Conversation.ConferenceName,
		TranscribeURL:     cfg.PublicURLFor(gateway.PathTranscribe),
		PostDialURL:       postDialURL,
		StatusCallbackURL: cfg.PublicURLFor(gateway.PathCallStatus),
	})
	if err != nil {
		return err
	}
	decision, err := decider.Decide(routing.SetupRequest{
		To:            opts.To,
		From:          cfg.Twilio.CallerID,
		RecipientType: opts.Recipient,
	})
	if err != nil {
		return err
	}

	telephony, err := newTelephony(cfg)
	if err != nil {
		return err
	}
	operatorSID, err := telephony.OriginateCall(ctx, voice.OriginateInput{
		To:             opts.Operator,
		From:           cfg.Twilio.CallerID,
		Twiml:          decision.Twiml,
		StatusCallback: cfg.PublicURLFor(gateway.PathCallStatus),
	})
	if err != nil {
		return fmt.Errorf("call operator: %w", err)
	}
	fmt.Fprintf(out, "Calling operator %s (%s)\n", opts.Operator, operatorSID)

	if decision.Originate != nil {
		calleeSID, err := telephony.OriginateCall(ctx, *decision.Originate)
		if err != nil {
			_ = telephony.HangupCall(context.WithoutCancel(ctx), operatorSID)
			return fmt.Errorf("call recipient: %w", err)
		}
		fmt.Fprintf(out, "Calling recipient %s (%s) into %s\n", decision.To, calleeSID, cfg.Conversation.ConferenceName)
	}
	return nil
}

// selectRemoteVoice asks a running server to switch its voice.
func selectRemoteVoice(ctx context.Context, endpoint, voiceID string) error {
	body, err := json.Marshal(map[string]string{"voiceId": voiceID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("select voice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("select voice: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func runHangup(cmd *cobra.Command, configPath, callSID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telephony, err := newTelephony(cfg)
	if err != nil {
		return err
	}
	if err := telephony.HangupCall(cmd.Context(), callSID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Call %s ended\n", callSID)
	return nil
}

func runConference(cmd *cobra.Command, configPath, name string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if name == "" {
		name = cfg.Conversation.ConferenceName
	}
	telephony, err := newTelephony(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	conf, err := telephony.FindConferenceByName(ctx, name)
	if errors.Is(err, voice.ErrConferenceNotFound) {
		fmt.Fprintf(out, "No live conference named %s\n", name)
		return nil
	}
	if err != nil {
		return err
	}
	participants, err := telephony.ListParticipants(ctx, conf.SID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Conference %s (%s) %s\n", conf.FriendlyName, conf.SID, conf.Status)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CALL SID\tSTATUS\tMUTED\tHOLD")
	for _, p := range participants {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", p.CallSID, p.Status, p.Muted, p.Hold)
	}
	return w.Flush()
}

// =============================================================================
// Journal Command Handlers
// =============================================================================

func runTurns(cmd *cobra.Command, configPath, callSID string, limit int, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Journal.Enabled {
		return errors.New("journal is disabled; set journal.enabled to record turns")
	}
	store, err := journal.Open(cmd.Context(), cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(cmd.Context(), callSID, limit)
	if err != nil {
		return err
	}
	return printTurns(cmd.OutOrStdout(), entries, asJSON)
}

func printTurns(out io.Writer, entries []journal.Entry, asJSON bool) error {
	if asJSON {
		if entries == nil {
			entries = []journal.Entry{}
		}
		return writeJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No turns recorded")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tCALL\tLOOP\tOUTCOME\tDURATION\tUTTERANCE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.UTC().Format(time.RFC3339),
			e.CallSID,
			e.Loop,
			e.Outcome,
			e.Duration,
			truncate(e.Utterance, 48),
		)
	}
	return w.Flush()
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration %s is valid\n", configPath)

	var warnings []string
	if cfg.Server.PublicURL == "" {
		warnings = append(warnings, "server.public_url is empty; serve and dial will refuse to start")
	}
	if cfg.Twilio.CallerID == "" {
		warnings = append(warnings, "twilio.caller_id is empty; calls to phone numbers will fail")
	}
	if !cfg.Twilio.ValidateSignatures {
		warnings = append(warnings, "twilio.validate_signatures is off; webhooks are not authenticated")
	}
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
