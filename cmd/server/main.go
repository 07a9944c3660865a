package main

import (
	"os"

	"proyektor/internal/logger"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:           "proyektor",
		Short:         "Project Bible verses, songs and announcements onto a second screen",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logger.SetOutput(os.Stderr, true)
			}
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", os.Getenv("PROYEKTOR_DEBUG") == "true", "Enable debug logging")

	serve := newServeCmd()
	root.AddCommand(serve, newDisplayCmd())

	// `proyektor` alone runs the server.
	root.RunE = serve.RunE
	return root
}
