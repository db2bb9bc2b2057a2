package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"vibestyler/internal/pipeline"
	"vibestyler/internal/styles"
)

var sitesJSON bool

// sitesCmd groups commands over the saved style store.
var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Inspect and manage saved styles",
}

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pages with saved styles",
	Args:  cobra.NoArgs,
	RunE:  runSitesList,
}

var sitesDeleteCmd = &cobra.Command{
	Use:   "delete [origin]",
	Short: "Delete every style saved for a page",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		return printOutcome(cmd, a.coord.DeleteSite(ctx, pipeline.DeleteSite{Origin: args[0]}))
	}),
}

var sitesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all saved styles",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		return printOutcome(cmd, a.coord.DeleteAll(ctx))
	}),
}

// activateCmd selects a saved style; it takes effect on the next load.
var activateCmd = &cobra.Command{
	Use:   "activate [origin] [style-id]",
	Short: "Make a saved style active for a page",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid style id %q", args[1])
		}
		return printOutcome(cmd, a.coord.SetActive(ctx, pipeline.SetActive{Origin: args[0], StyleID: styles.IDPtr(id)}))
	}),
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate [origin]",
	Short: "Clear the active style for a page",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		return printOutcome(cmd, a.coord.ClearActive(ctx, pipeline.ClearActive{Origin: args[0]}))
	}),
}

func init() {
	sitesListCmd.Flags().BoolVar(&sitesJSON, "json", false, "Print the store as JSON")
	sitesCmd.AddCommand(sitesListCmd)
	sitesCmd.AddCommand(sitesDeleteCmd)
	sitesCmd.AddCommand(sitesClearCmd)
}

// withApp wires the components, runs fn and closes them again. The browser
// is never started, so page-side effects are skipped.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())
		return fn(ctx, cmd, a, args)
	}
}

func runSitesList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
		sites, err := a.styles.Sites(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if sitesJSON {
			m := make(map[string]styles.SiteEntry, len(sites))
			for _, s := range sites {
				m[s.Origin] = s.Entry
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		}
		if len(sites) == 0 {
			fmt.Fprintln(out, "No saved styles.")
			return nil
		}
		st := newListStyles(out)
		for _, s := range sites {
			writeSite(out, st, s)
		}
		return nil
	})(cmd, args)
}

// listStyles colors the site listing when out is a terminal.
type listStyles struct {
	origin lipgloss.Style
	active lipgloss.Style
}

func newListStyles(out io.Writer) listStyles {
	r := lipgloss.NewRenderer(out)
	return listStyles{
		origin: r.NewStyle().Bold(true),
		active: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#22C55E")),
	}
}

func writeSite(out io.Writer, st listStyles, s styles.Site) {
	fmt.Fprintln(out, st.origin.Render(s.Origin))
	active, hasActive := s.Entry.Active()
	for _, rec := range s.Entry.Styles {
		mark := " "
		if hasActive && rec.ID == active.ID {
			mark = st.active.Render("*")
		}
		fmt.Fprintf(out, "  %s %d  %s\n", mark, rec.ID, rec.Prompt)
	}
}
