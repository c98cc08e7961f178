package main

import (
	"context"
	"flag"
	"os"

	"flashgate/internal/bootstrap"
	"flashgate/internal/gate"
	"flashgate/pkg/logging"
)

var configFile = flag.String("config", "configs/gate.ini", "Path to the bootstrap INI file")

func main() {
	flag.Parse()

	if envConfig := os.Getenv("FLASHGATE_CONFIG"); envConfig != "" {
		*configFile = envConfig
	}

	app, err := bootstrap.NewApp(context.Background(), *configFile)
	if err != nil {
		logging.Fatal("Bootstrap failed", "error", err)
	}

	g, err := gate.New(context.Background(), app.Runtime, app.Bus, app.Logger)
	if err != nil {
		app.Logger.Fatal("Gate assembly failed", "error", err)
	}
	defer g.Close()

	g.RegisterHealth(app.Monitor)

	if err := app.Run(g); err != nil {
		os.Exit(1)
	}
}
