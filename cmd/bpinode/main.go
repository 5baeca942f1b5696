// Command bpinode runs a BPI node: Action VM, ENC-Lock/QLOCK gateway,
// relay core, diversity engine, wallet-registry bridge, and oracle data
// relay, all behind one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bpi-sushrut/bpinode/internal/app"
	"github.com/bpi-sushrut/bpinode/internal/config"
)

// Exit codes per spec §6.
const (
	exitOK               = 0
	exitConfigError      = 1
	exitCryptoInit       = 2
	exitAuditChainBroken = 3
)

func main() {
	mode := flag.String("mode", "", "run mode (overrides BPI_MODE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(exitConfigError)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		switch {
		case errors.Is(err, app.ErrCryptoInit):
			os.Exit(exitCryptoInit)
		case errors.Is(err, app.ErrAuditChainBroken):
			os.Exit(exitAuditChainBroken)
		default:
			os.Exit(exitConfigError)
		}
	}
	os.Exit(exitOK)
}
