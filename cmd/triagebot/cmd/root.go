package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	logo    = "\n" +
		"  _        _                   _           _   \n" +
		" | |_ _ __(_) __ _  __ _  ___ | |__   ___ | |_ \n" +
		" | __| '__| |/ _` |/ _` |/ _ \\| '_ \\ / _ \\| __|\n" +
		" | |_| |  | | (_| | (_| |  __/| |_) | (_) | |_ \n" +
		"  \\__|_|  |_|\\__,_|\\__, |\\___||_.__/ \\___/ \\__|\n" +
		"                   |___/                       \n"
)

var rootCmd = &cobra.Command{
	Use:   "triagebot",
	Short: "triagebot - chat-platform incident triage and response coordinator",
	Long:  color.CyanString(logo) + "\nClaims, escalation, and KPI reporting for incidents reported over chat.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reportCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the triagebot version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}
