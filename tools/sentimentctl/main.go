// Package main provides sentimentctl, the offline training and inspection CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sentimentctl",
		Short: "Train, export and inspect chat sentiment models",
		Long: `Offline tooling for the chat sentiment pipeline.

Examples:
  sentimentctl train-classifier --csv kick_sentiment.csv --out sentiment_model.json
  sentimentctl train-regressor --store data/chat_data.json --out sentiment_model.json
  sentimentctl score --model sentiment_model.json "love the stream"
  sentimentctl inspect --model sentiment_model.json
  sentimentctl resolve-kick paymoneywubby xqc
`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		trainClassifierCmd(),
		trainRegressorCmd(),
		scoreCmd(),
		inspectCmd(),
		resolveKickCmd(),
	)
	return cmd
}
