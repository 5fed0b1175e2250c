package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/habedi/inspecta/app"
	"github.com/habedi/inspecta/config"
	"github.com/habedi/inspecta/db"
	"github.com/habedi/inspecta/pkg/clierr"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// skipSetup marks commands that run without config, database or container.
const skipSetup = "skip-setup"

var (
	configPath string
	container  *app.Container
)

// Execute runs the root command and exits with a non-zero code on failure.
func Execute(ctx context.Context) {
	rootCmd := createRootCmd()
	rootCmd.PersistentFlags().BoolP("help", "h", false, "Show help for a command")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(reportError(rootCmd, err))
	}
}

func createRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "inspecta",
		Short:         "Session and connectivity client for the Inspecta backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipSetup] != "" {
				return nil
			}
			return setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			teardown()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("Path to the config file (default %s, or $%s)", config.DefaultPath(), config.EnvConfig))

	rootCmd.AddCommand(
		loginCmd(),
		logoutCmd(),
		statusCmd(),
		watchCmd(),
		callCmd(),
		versionCmd(),
	)

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	return rootCmd
}

// setup loads the configuration, opens the session database and builds the
// container.
func setup() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return clierr.New(clierr.Validation, err.Error(), err)
	}
	if err := initializeDatabase(cfg.Database.Path); err != nil {
		return clierr.New(clierr.Internal, "Failed to open the session database.", err)
	}
	container, err = app.NewContainer(cfg, db.GetDB())
	if err != nil {
		closeDatabase()
		return clierr.New(clierr.Validation, err.Error(), err)
	}
	return nil
}

func teardown() {
	if container != nil {
		container.Close()
		container = nil
	}
	closeDatabase()
}

func initializeDatabase(path string) error {
	db.Path = path
	if err := db.InitDB(); err != nil {
		log.Error().Err(err).Msg("Failed to initialize database")
		return err
	}
	return nil
}

func closeDatabase() {
	if err := db.CloseDB(); err != nil {
		log.Error().Err(err).Msg("Failed to close the database.")
	}
}

// reportError prints err for the user and returns the exit code.
func reportError(cmd *cobra.Command, err error) int {
	teardown()
	var cliErr *clierr.Error
	if !errors.As(err, &cliErr) {
		cliErr = clierr.Classify("Command failed", err)
	}
	log.Error().Err(cliErr.Err).Str("type", string(cliErr.Type)).Msg("Command execution failed.")
	cmd.PrintErrln("Error:", cliErr.Message)
	return cliErr.ExitCode()
}
