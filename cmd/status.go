package cmd

import (
	"errors"
	"io"
	"time"

	"github.com/habedi/inspecta/auth"
	"github.com/habedi/inspecta/client"
	"github.com/habedi/inspecta/config"
	"github.com/habedi/inspecta/connectivity"
	"github.com/habedi/inspecta/pkg/clierr"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// statusCmd shows the stored session and probes every backend once.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and backend reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			pair, err := container.Session().Initialize(cmd.Context())
			if err != nil && !errors.Is(err, auth.ErrNoSession) {
				return clierr.Classify("Failed to read the session", err)
			}
			renderSessionTable(cmd.OutOrStdout(), pair, err == nil, time.Now())

			results := container.Probe(cmd.Context())
			renderBackendTable(cmd.OutOrStdout(), container.Config(), results)
			log.Info().Int("backends", len(results)).Msg("Status reported")
			return nil
		},
	}
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)
	return table
}

func renderSessionTable(w io.Writer, pair auth.TokenPair, loggedIn bool, now time.Time) {
	table := newTable(w, []string{"Session", "Value"})
	if !loggedIn {
		table.Append([]string{"Logged in", "no"})
		table.Render()
		return
	}
	table.Append([]string{"Logged in", "yes"})
	table.Append([]string{"User ID", pair.UserID})
	if !pair.Expiry.IsZero() {
		table.Append([]string{"Token expires", pair.Expiry.Local().Format(time.RFC1123)})
		table.Append([]string{"Expires in", pair.Expiry.Sub(now).Round(time.Second).String()})
	}
	table.Render()
}

func renderBackendTable(w io.Writer, cfg *config.Config, results []connectivity.ProbeResult) {
	urls := map[string]string{
		client.Primary: cfg.Backends.API,
		client.Asset:   cfg.Backends.Asset,
	}
	table := newTable(w, []string{"Backend", "URL", "Reachable", "Latency", "Error"})
	for _, r := range results {
		reachable, errText := "yes", ""
		if !r.OK() {
			reachable, errText = "no", r.Err.Error()
		}
		table.Append([]string{r.Name, urls[r.Name], reachable, r.Latency.Round(time.Millisecond).String(), errText})
	}
	table.Render()
}
