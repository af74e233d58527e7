package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskrelay",
	Short: "Interactive task coordination server",
	Long: `taskrelay coordinates long-running automated tasks that suspend
mid-execution to ask a remote operator a question, wait non-blockingly for
an answer (or time out), and resume with the answer folded into the paused
action's original parameters.

Running 'taskrelay' without a subcommand is equivalent to 'taskrelay serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to taskrelay.json config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides config")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
