package cmd

import (
	"time"

	"github.com/habedi/inspecta/app"
	"github.com/habedi/inspecta/connectivity"
	"github.com/habedi/inspecta/serviceworker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// watchCmd runs the connectivity monitor and the update agent until interrupted.
func watchCmd() *cobra.Command {
	var autoApply bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch backend connectivity and update availability",
		Long:  "Poll the backends for reachability and check for new versions of the update agent until interrupted (Ctrl+C).",
		RunE: func(cmd *cobra.Command, args []string) error {
			detach := subscribeWatch(cmd, container, autoApply)
			defer detach()

			container.Start(cmd.Context())
			cfg := container.Config()
			cmd.Printf("Watching backends every %s (update checks every %s). Press Ctrl+C to stop.\n",
				cfg.Health.Interval, cfg.Updates.CheckInterval)

			<-cmd.Context().Done()
			cmd.Println("Stopped.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&autoApply, "apply-updates", "u", false, "Activate new versions as soon as they are waiting")

	return cmd
}

// subscribeWatch prints connectivity and update transitions.
func subscribeWatch(cmd *cobra.Command, c *app.Container, autoApply bool) (detach func()) {
	offMonitor := c.Monitor().Subscribe(func(s connectivity.State) {
		status := "offline"
		if s.Online {
			status = "online"
		}
		cmd.Printf("[%s] backends %s\n", s.LastChecked.Format(time.TimeOnly), status)
	})
	offUpdates := c.Updates().Subscribe(func(s serviceworker.Status) {
		switch s.State {
		case serviceworker.WaitingForActivation:
			cmd.Printf("Update available (%s).\n", s.Waiting.ID())
			if autoApply {
				if err := c.Updates().ApplyUpdate(); err != nil {
					log.Error().Err(err).Msg("Failed to apply update")
					cmd.PrintErrln("Error: failed to apply update:", err)
				}
			}
		case serviceworker.Failed:
			cmd.PrintErrln("Update agent registration failed.")
		default:
			cmd.Printf("Update agent %s.\n", s.State)
		}
	})
	return func() {
		offMonitor()
		offUpdates()
	}
}
