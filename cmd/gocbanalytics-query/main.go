package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/couchbase/gocbanalytics/internal/cliconfig"
)

type globalOptions struct {
	configPath string
	connection string
}

func main() {
	opts := globalOptions{}
	cfg := &cliconfig.Config{}

	cmd := &cobra.Command{
		Use:           "gocbanalytics-query",
		Short:         "Run SQL++ Analytics queries against a Couchbase Analytics cluster.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, err := expandHomeDir(opts.configPath)
			if err != nil {
				return fmt.Errorf("expand config path: %w", err)
			}

			loaded, err := cliconfig.NewFromFile(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			*cfg = *loaded

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "~/.config/gocbanalytics/config.toml",
		"Path to the CLI configuration file.")
	cmd.PersistentFlags().StringVarP(&opts.connection, "connection", "c", "",
		"Name of the configured connection to use. (default is current_connection)")
	_ = cmd.MarkPersistentFlagFilename("config", "toml")

	cmd.AddCommand(NewQueryCommand(cfg, &opts))

	cobra.CheckErr(cmd.Execute())
}

func expandHomeDir(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, path[1:]), nil
}
