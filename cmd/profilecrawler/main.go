package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/JakeFAU/company-profile-crawler/internal/config"
	"github.com/JakeFAU/company-profile-crawler/internal/server"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "", "Path to config file")
	refresh := pflag.Bool("refresh", false, "Refresh stale profiles and search only for newly founded companies")
	debug := pflag.Bool("debug", false, "Development logging; ignore the completed-run guard")
	pflag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *refresh {
		cfg.Search.RefreshOnly = true
	}
	if *debug {
		cfg.App.Debug = true
	}

	ctx := context.Background()
	app, err := server.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		os.Exit(1)
	}
}
