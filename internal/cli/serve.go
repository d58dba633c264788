package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/codeforge/internal/pipeline"
	"github.com/lucasnoah/codeforge/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only JSON API over runs and analytics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := pipeline.DefaultStore(cfg.Pipeline.StateDir)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		d, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		port, _ := cmd.Flags().GetInt("port")
		srv := web.NewServer(store, d, port)
		srv.SetLogger(logger)
		fmt.Fprintf(cmd.OutOrStdout(), "forge API listening on http://localhost:%d/api/runs\n", port)
		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 17432, "port to listen on")
}
