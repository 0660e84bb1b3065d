// Package cli provides the settings-composer command line tool.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/langsettings/composer/pkg/logger"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "settings-composer",
		Short: "Compose and validate language server settings schemas",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := cmd.Flags().GetString("log-level")
			if err != nil {
				return err
			}
			jsonLogs, err := cmd.Flags().GetBool("log-json")
			if err != nil {
				return err
			}
			log := logger.NewLogger(&logger.Config{
				Level:      logger.LogLevel(level),
				JSON:       jsonLogs,
				TimeFormat: "15:04:05",
			})
			cmd.SetContext(logger.ContextWithLogger(cmd.Context(), log))
			return nil
		},
	}
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "emit logs as JSON")

	root.AddCommand(
		InspectCmd(),
	)

	return root
}
