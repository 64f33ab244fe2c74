package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the humblevault command tree.
func NewRootCommand(version string) *cobra.Command {
	var opts globalOptions

	cc := newCommandContext(&opts)

	rootCmd := &cobra.Command{
		Use:           "humblevault",
		Short:         "Index, enrich and download your storefront library",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initColor(opts.noColor)
			_, err := cc.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Extra .env file to load before the environment")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override HV_LOG_LEVEL")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newServeCommand(cc, version))
	rootCmd.AddCommand(newSyncCommand(cc))
	rootCmd.AddCommand(newDownloadCommand(cc))
	rootCmd.AddCommand(newReconcileCommand(cc))
	rootCmd.AddCommand(newHighlightsCommand(cc))
	rootCmd.AddCommand(newStatusCommand(cc))

	return rootCmd
}
