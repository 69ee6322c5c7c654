package commands

import (
	"github.com/spf13/cobra"

	"dev/bravebird/mar-export/pkg/api"
)

var (
	serveAddr     string
	serveTemporal bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Address to listen on. Overrides status_addr.")
	serveCmd.Flags().BoolVar(&serveTemporal, "temporal", true, "Answer live progress of workflow runs through Temporal queries.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--addr <addr>]",
	Short: "Serves run history and live progress over HTTP and WebSocket.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg)
		a.openHistory()
		defer a.close()

		var workflows api.WorkflowQuerier
		if serveTemporal {
			tc, err := dialTemporal(a.cfg)
			if err != nil {
				a.logger.Warn("Running without workflow progress", "error", err)
			} else {
				defer tc.Close()
				workflows = tc
			}
		}

		addr := a.cfg.StatusAddr
		if cmd.Flags().Changed("addr") || addr == "" {
			addr = serveAddr
		}
		srv := api.NewServer(addr, api.NewHandlers(a.store(), a.hub, workflows, a.logger))
		a.logger.Info("API server listening", "addr", addr)
		err := api.Serve(cmd.Context(), srv)
		a.logger.Info("Server stopped")
		return err
	},
}
