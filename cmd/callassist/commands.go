package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "callassist.yaml"

// resolveConfigPath prefers an explicit flag, then CALLASSIST_CONFIG.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigPath {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("CALLASSIST_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
}

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that runs the webhook server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long: `Start the callassist webhook server.

The server will:
1. Load configuration from the specified file (or callassist.yaml)
2. Connect the Twilio, ElevenLabs and OpenAI clients
3. Open the turn journal when enabled
4. Serve the telephony webhooks, voice endpoints, audio asset and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals and waits for
in-flight turns.`,
		Example: `  # Start with default config
  callassist serve

  # Start with debug logging
  callassist serve --config /etc/callassist.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}

// =============================================================================
// Call Commands
// =============================================================================

func buildVoicesCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the available synthesis voices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVoices(cmd, resolveConfigPath(configPath), asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print voices as JSON")
	return cmd
}

func buildDialCmd() *cobra.Command {
	var (
		configPath string
		opts       dialOptions
	)
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Call the operator and connect them to a recipient",
		Long: `Place an outbound call to the operator. When the operator answers, the call
is routed to the recipient exactly as an app-initiated call would be, with
live transcription on the operator's leg.`,
		Example: `  callassist dial --operator +15550001111 --to alice --recipient client
  callassist dial --operator +15550001111 --to +15557654321 --recipient number --voice 21m00Tcm4TlvDq8ikWAM`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDial(cmd, resolveConfigPath(configPath), opts)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&opts.Operator, "operator", "", "Number or client:identity that is called first")
	cmd.Flags().StringVar(&opts.To, "to", "", "Recipient number or client identity")
	cmd.Flags().StringVar(&opts.Recipient, "recipient", "number", "Recipient kind: client or number")
	cmd.Flags().StringVar(&opts.VoiceID, "voice", "", "Select this voice on the running server before dialing")
	_ = cmd.MarkFlagRequired("operator")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func buildHangupCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "hangup <call-sid>",
		Short: "End a live call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHangup(cmd, resolveConfigPath(configPath), args[0])
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func buildConferenceCmd() *cobra.Command {
	var (
		configPath string
		name       string
	)
	cmd := &cobra.Command{
		Use:   "conference",
		Short: "Show the live conference and its participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConference(cmd, resolveConfigPath(configPath), name)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&name, "name", "", "Conference name (default: conversation.conference_name)")
	return cmd
}

// =============================================================================
// Journal Commands
// =============================================================================

func buildTurnsCmd() *cobra.Command {
	var (
		configPath string
		callSID    string
		limit      int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "turns",
		Short: "Show recent conversation turns from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTurns(cmd, resolveConfigPath(configPath), callSID, limit, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&callSID, "call", "", "Only show turns for this call SID")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of turns")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print turns as JSON")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(configPath))
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}
