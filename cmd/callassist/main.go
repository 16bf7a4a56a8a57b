// Package main provides the CLI entry point for callassist, a phone call
// assistant that listens to a live call, answers with a language model and
// speaks the reply back into the call.
//
// # Basic Usage
//
// Start the webhook server:
//
//	callassist serve --config callassist.yaml
//
// List the synthesis voices:
//
//	callassist voices
//
// Place a call from the operator's phone to a recipient:
//
//	callassist dial --operator +15550001111 --to +15557654321 --recipient number
//
// # Environment Variables
//
//   - CALLASSIST_CONFIG: Path to configuration file (default: callassist.yaml)
//   - TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_CALLER_ID: telephony credentials
//   - ELEVEN_LABS_API_KEY: speech synthesis key
//   - OPENAI_API_KEY: language model key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "callassist",
		Short: "callassist - AI assistant for live phone calls",
		Long: `callassist transcribes a live call, asks a language model for a reply,
synthesizes the reply and plays it back into the call.

Telephony: Twilio
Speech synthesis: ElevenLabs
Language model: OpenAI`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVoicesCmd(),
		buildDialCmd(),
		buildHangupCmd(),
		buildConferenceCmd(),
		buildTurnsCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
