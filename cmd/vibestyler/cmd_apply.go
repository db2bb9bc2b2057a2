package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vibestyler/internal/pipeline"
)

var applyURL string

// applyCmd runs one Apply against a freshly opened tab.
var applyCmd = &cobra.Command{
	Use:   "apply [prompt]",
	Short: "Generate and apply a style to a page",
	Long: `Opens --url in the browser, generates CSS for the prompt, saves it as the
page's active style and injects it.

Example:
  vibestyler apply --url https://example.com "high contrast, larger text"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applyURL, "url", "", "Page to restyle (required)")
	_ = applyCmd.MarkFlagRequired("url")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.host.Start(ctx); err != nil {
		return err
	}
	tab, err := a.host.Open(ctx, applyURL)
	if err != nil {
		return err
	}

	prompt := strings.Join(args, " ")
	logger.Info("applying style", zap.String("url", applyURL), zap.String("prompt", prompt))
	o := a.coord.Apply(ctx, pipeline.Apply{Prompt: prompt, Tab: tab})
	return printOutcome(cmd, o)
}

// printOutcome writes o's message and turns a failed Outcome into an error.
func printOutcome(cmd *cobra.Command, o pipeline.Outcome) error {
	if !o.Success {
		return errors.New(o.Message)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, o.Message)
	if o.Applied != nil {
		fmt.Fprintf(out, "  style #%d: %s\n", o.Applied.ID, o.Applied.Prompt)
	}
	return nil
}
