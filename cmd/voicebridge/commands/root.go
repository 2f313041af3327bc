package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "voicebridge",
	Short: "Relay live phone calls to a conversational AI agent",
	Long: `voicebridge bridges Twilio Media Streams to ElevenLabs
Conversational AI, one relay session per call.

Configuration is read from an optional YAML file plus environment
variables (TWILIO_*, ELEVENLABS_*, VOICEBRIDGE_*). A .env file in the
working directory is honored.

Examples:
  # Run the server with environment configuration
  ELEVENLABS_API_KEY=... ELEVENLABS_AGENT_ID=... voicebridge serve

  # Run with a config file
  voicebridge serve --config config.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}
