// Package cli implements the signflow command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/digitorus/signflow/config"
)

var (
	version    = "dev"
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "signflow",
	Short: "Document signing workflow service",
	Long: `signflow runs the document signing workflow: owners upload PDFs and
arrange placeholders, signers sign or decline through share links, and
completed documents are baked into a final PDF.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("signflow version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultLocation, "path of the TOML config file")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command line.
func Execute() error {
	return rootCmd.Execute()
}
