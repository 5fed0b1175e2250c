package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/habedi/inspecta/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// main is the entry point of the application.
// It sets up logging based on the DEBUG_INSPECTA environment variable,
// starts a goroutine to listen for interrupt signals, and executes the main command.
func main() {
	configureLogLevelFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopChan := setupInterruptListener()
	go handleInterrupt(stopChan, cancel,
		func(msg string) { log.Warn().Msg(msg) },
		os.Exit,
	)

	cmd.Execute(ctx)
}

// configureLogLevelFromEnv enables debug logging when DEBUG_INSPECTA is set to
// anything other than "", "false" or "0", and disables logging otherwise.
func configureLogLevelFromEnv() {
	switch os.Getenv("DEBUG_INSPECTA") {
	case "", "false", "0":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func setupInterruptListener() chan os.Signal {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	return stopChan
}

// handleInterrupt cancels the running command on the first interrupt so it
// can stop its background work, and exits on the second.
func handleInterrupt(stopChan chan os.Signal, cancel context.CancelFunc, logFn func(string), exit func(int)) {
	<-stopChan
	logFn("Interrupt signal received. Shutting down...")
	cancel()

	<-stopChan
	logFn("Second interrupt signal received. Exiting...")
	exit(1)
}
