package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/john/chatsentiment/internal/export"
	"github.com/john/chatsentiment/internal/inference"
	"github.com/john/chatsentiment/internal/kick"
	"github.com/john/chatsentiment/internal/labeling"
	"github.com/john/chatsentiment/internal/retrain"
	"github.com/john/chatsentiment/internal/train"
)

var defaultSamples = []string{
	"hahahaha this is so funny",
	"skip this game its bad",
	"love the stream keep it up",
	"you suck",
	"LOL",
}

func trainClassifierCmd() *cobra.Command {
	var (
		csvPath string
		outPath string
		samples []string
	)
	opts := train.DefaultClassifierOptions()

	cmd := &cobra.Command{
		Use:   "train-classifier",
		Short: "Train a labeled-message classifier from CSV and export it",
		Long: `Train a TF-IDF logistic regression classifier on a CSV with
"message" and "sentiment_label" columns, print held-out diagnostics and
write the portable artifact.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			examples, err := train.ReadExamplesFile(csvPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Loaded %d messages\n", len(examples))

			c, report, err := train.TrainClassifier(examples, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, report.String())

			artifact, err := export.FromClassifier(c)
			if err != nil {
				return err
			}
			if err := artifact.WriteFile(outPath); err != nil {
				return err
			}
			fmt.Fprintf(out, "Model saved to %s (%d features, %d classes)\n", outPath, len(artifact.Vocabulary), len(c.Classes))

			printSamples(out, c, samples)
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "Training CSV with message and sentiment_label columns")
	cmd.Flags().StringVar(&outPath, "out", "sentiment_model.json", "Artifact output path")
	cmd.Flags().StringSliceVar(&samples, "sample", defaultSamples, "Sample messages to predict after training")
	cmd.Flags().Float64Var(&opts.TestRatio, "test-ratio", opts.TestRatio, "Held-out fraction per label")
	cmd.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "Split seed")
	cmd.Flags().IntVar(&opts.MaxIter, "max-iter", opts.MaxIter, "Optimizer iteration ceiling")
	cmd.Flags().Float64Var(&opts.C, "c", opts.C, "Inverse L2 regularisation strength")
	cmd.Flags().IntVar(&opts.Features.MinDF, "min-df", opts.Features.MinDF, "Minimum document frequency")
	cmd.Flags().IntVar(&opts.Features.MaxFeatures, "max-features", opts.Features.MaxFeatures, "Vocabulary size cap")
	cmd.MarkFlagRequired("csv")
	return cmd
}

func printSamples(out io.Writer, c *train.Classifier, samples []string) {
	if len(samples) == 0 {
		return
	}
	fmt.Fprintln(out, "\nTesting model on samples:")
	for _, text := range samples {
		fmt.Fprintf(out, "\nText: %s\nPrediction: %s\nConfidence scores:\n", text, c.Predict(text))
		for i, p := range c.Probabilities(text) {
			fmt.Fprintf(out, "  %s: %.2f\n", c.Classes[i], p)
		}
	}
}

func trainRegressorCmd() *cobra.Command {
	var (
		storePath string
		backend   string
		outPath   string
		csvPath   string
	)
	opts := train.DefaultRegressorOptions()

	cmd := &cobra.Command{
		Use:   "train-regressor",
		Short: "Train the batch-score regressor from a labeling store snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openStore(backend, storePath)
			if err != nil {
				return err
			}
			defer closeStore()

			trainer := retrain.New(store, inference.NewEngine(), retrain.Config{
				Options:      opts,
				ArtifactPath: outPath,
				CSVPath:      csvPath,
			})
			res, err := trainer.RunOnce(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trained on %d labeled messages, %d features\nModel saved to %s\n",
				res.Messages, res.VocabularySize, res.ArtifactPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "./data/chat_data.json", "Labeling store path")
	cmd.Flags().StringVar(&backend, "backend", "file", "Store backend: file or sqlite")
	cmd.Flags().StringVar(&outPath, "out", "sentiment_model.json", "Artifact output path")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Also write the training rows to this CSV")
	cmd.Flags().IntVar(&opts.MinLabeled, "min-labeled", opts.MinLabeled, "Minimum labeled messages")
	cmd.Flags().IntVar(&opts.Features.MaxFeatures, "max-features", opts.Features.MaxFeatures, "Vocabulary size cap")
	return cmd
}

func openStore(backend, path string) (*labeling.Store, func(), error) {
	switch backend {
	case "file":
		store, err := labeling.Open(labeling.NewFilePersister(path))
		return store, func() {}, err
	case "sqlite":
		p, err := labeling.OpenSQLite(path, 10)
		if err != nil {
			return nil, nil, err
		}
		store, err := labeling.Open(p)
		if err != nil {
			p.Close()
			return nil, nil, err
		}
		return store, func() { p.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func scoreCmd() *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "score [text...]",
		Short: "Score messages with an exported artifact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := inference.LoadFile(modelPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, text := range args {
				p := m.Score(text)
				switch {
				case p.Label == "":
					fmt.Fprintf(out, "%s\tsentiment=%.4f\n", text, p.Score)
				case p.Probability != nil:
					fmt.Fprintf(out, "%s\t%s\tp=%.4f\n", text, p.Label, *p.Probability)
				default:
					// The engine returns raw class scores; normalise them here for display.
					fmt.Fprintf(out, "%s\t%s\t%s\n", text, p.Label, formatProbabilities(m.Classes(), softmax(p.Scores)))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "sentiment_model.json", "Artifact path")
	return cmd
}

func softmax(scores []float64) []float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		maxScore = math.Max(maxScore, s)
	}
	var sum float64
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func formatProbabilities(classes []string, probs []float64) string {
	parts := make([]string, len(classes))
	for i, c := range classes {
		parts[i] = fmt.Sprintf("%s=%.2f", c, probs[i])
	}
	return strings.Join(parts, " ")
}

func inspectCmd() *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Validate an artifact and print its metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := inference.LoadFile(modelPath); err != nil {
				return err
			}
			a, err := export.ReadFile(modelPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model type:  %s\n", a.ModelType)
			fmt.Fprintf(out, "Version:     %s\n", a.Version)
			fmt.Fprintf(out, "Vocabulary:  %d terms\n", len(a.Vocabulary))
			fmt.Fprintf(out, "N-gram range: [%d, %d]\n", a.NgramRange[0], a.NgramRange[1])
			if len(a.Classes) > 0 {
				fmt.Fprintf(out, "Classes:     %s\n", strings.Join(a.Classes, ", "))
			}
			if a.Coefficients.Nested() {
				fmt.Fprintf(out, "Coefficients: %d rows\n", len(a.Coefficients.Rows))
			} else {
				fmt.Fprintf(out, "Coefficients: 1 row (binary-collapsed or regression)\n")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "sentiment_model.json", "Artifact path")
	return cmd
}

func resolveKickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-kick <channel> [channel...]",
		Short: "Resolve Kick channel slugs to chatroom IDs for config.yaml",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveKick(cmd.Context(), cmd.OutOrStdout(), kick.NewResolver(), args)
		},
	}
}

func resolveKick(ctx context.Context, out io.Writer, r *kick.Resolver, channels []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	type resolved struct {
		slug string
		id   int
	}
	var ok []resolved
	failed := 0
	for _, channel := range channels {
		id, slug, err := r.Resolve(ctx, channel)
		if err != nil {
			fmt.Fprintf(out, "Failed to resolve %s: %v\n", channel, err)
			failed++
			continue
		}
		ok = append(ok, resolved{slug: slug, id: id})
	}

	if len(ok) > 0 {
		fmt.Fprintln(out, "Add this to your config.yaml:")
		fmt.Fprintln(out, "kick:")
		fmt.Fprintln(out, "  enabled: true")
		fmt.Fprintln(out, "  channels:")
		for _, r := range ok {
			fmt.Fprintf(out, "    - slug: %s\n", r.slug)
			fmt.Fprintf(out, "      chatroom_id: %d\n", r.id)
		}
	}
	if failed == len(channels) {
		return fmt.Errorf("no channels could be resolved")
	}
	return nil
}
