package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/cli"
	"github.com/quaydock/lighter/storage"
)

var (
	version = "dev"

	cfgFile     string
	profileName string
	jsonOutput  bool
	quiet       bool
)

var rootCmd = &cobra.Command{
	Use:     "lighter-cli",
	Version: version,
	Short:   "Client for S3, WebDAV and local storage backends",
	Long: `Lighter CLI talks directly to storage backends configured as profiles.

A profile names one backend: an S3-compatible endpoint, a WebDAV server
or a local directory. Large uploads run as resumable multipart transfers;
an interrupted upload continues from its last finished part on the next
attempt.

Profiles live in ~/.lighter/config.yaml; manage them with
'lighter-cli configure'.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.lighter/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "", "profile to use (default: the default profile, env: LIGHTER_PROFILE)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")

	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(statCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}

// getConfigPath resolves the profile config file path.
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return cli.DefaultConfigPath()
}

// getProfile resolves the active profile from flags and environment.
func getProfile() (*cli.Profile, error) {
	cfg, err := cli.LoadConfigFile(getConfigPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: run 'lighter-cli configure add <name>' first", cli.ErrNoProfiles)
		}
		return nil, err
	}

	name := profileName
	if name == "" {
		name = os.Getenv("LIGHTER_PROFILE")
	}
	return cfg.GetProfile(name)
}

// getClient opens the storage client for the active profile.
func getClient() (*cli.Profile, lighter.StorageClient, error) {
	p, err := getProfile()
	if err != nil {
		return nil, nil, err
	}
	client, err := storage.Open(p.StorageConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("open profile %q: %w", p.Name, err)
	}
	return p, client, nil
}

// getFormatter returns the appropriate formatter based on flags.
func getFormatter() cli.Formatter {
	return cli.NewFormatter(jsonOutput, quiet)
}

// exitError is returned when we want to exit with a specific code
// but don't want cobra to print an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return ""
}
