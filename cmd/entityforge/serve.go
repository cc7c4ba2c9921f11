package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"entityforge/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if cfg.Bootstrap {
			if err := a.svc.Bootstrap(ctx); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
		}
		if cfg.SeedsDir != "" {
			res, err := a.svc.LoadSeeds(ctx, cfg.SeedsDir)
			if err != nil {
				return err
			}
			logger.Info("seeds loaded", "dir", cfg.SeedsDir,
				"created", len(res.Created), "updated", len(res.Updated), "unchanged", len(res.Unchanged))
		}

		if gin.Mode() == gin.DebugMode && cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := api.NewRouter(a.svc, logger, api.Options{SeedsDir: cfg.SeedsDir})
		return api.RunServer(ctx, ":"+cfg.Port, router, logger)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "HTTP port (default 8080)")
	serveCmd.Flags().String("seeds", "", "directory with *.dsl definitions imported on start")
	serveCmd.Flags().Bool("bootstrap", true, "create shared registry and definitions tables")
	_ = v.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	_ = v.BindPFlag("seeds_dir", serveCmd.Flags().Lookup("seeds"))
	_ = v.BindPFlag("bootstrap", serveCmd.Flags().Lookup("bootstrap"))
}
