package main

import (
	"fmt"
	"strings"

	"github.com/eternalApril/moonkv/internal/server"
	"github.com/spf13/cobra"
)

// wrap is the number of characters help texts are wrapped at
const wrap = 50

var (
	// rootCmd starts the server when called without a subcommand
	rootCmd = &cobra.Command{
		Use:   "moonkv",
		Short: "in-memory key-value server speaking RESP",
		Long: fmt.Sprintf(`moonkv (v%s)

An in-memory key-value server compatible with Redis clients.
Strings, lists, sets and hashes with expiration, persisted with
an append-only file and periodic snapshots.`, server.Version),
		SilenceUsage: true,
		RunE:         runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of moonkv",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "moonkv v%s\n", server.Version)
		},
	}
)

func init() {
	addServeFlags(rootCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cliCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// wrapString wraps a help text at wrap characters
func wrapString(text string) string {
	var (
		lines []string
		line  strings.Builder
	)

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}

	if line.Len() > 0 {
		lines = append(lines, line.String())
	}

	return strings.Join(lines, "\n")
}
