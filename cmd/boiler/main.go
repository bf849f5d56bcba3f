// Boiler bridges an upstream emergency-alert source feed into a CAP/Atom
// feed consumable by broadcast encoder hardware.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	// A .env file can seed the environment; absence is fine.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "boiler",
		Short:        "EAS source feed to CAP/Atom bridge",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "boiler.yaml", "path to the configuration file")

	root.AddCommand(newServeCommand())
	root.AddCommand(newSendTestCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
