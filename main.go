package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/astroveda/astroclient/internal/app"
	"github.com/astroveda/astroclient/internal/config"
)

var (
	cfgPath    = flag.String("config", "config.json", "Path to the client config file")
	listenAddr = flag.String("listen", "127.0.0.1:7465", "Control API bind address")
	version    = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("astroclient v%s\n", appVersion)
		return
	}

	cfg, err := config.EnsureDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	a, err := app.New(app.Options{
		CfgPath:    *cfgPath,
		Cfg:        cfg,
		ListenAddr: *listenAddr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("APP: %v", err)
	}
}
