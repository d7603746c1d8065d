package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/cli"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Manage storage profiles",
	Long: `Manage storage profiles in the configuration file.

Profiles save connection settings for multiple storage backends; switch
between them with --profile or LIGHTER_PROFILE.

Configuration is stored in ~/.lighter/config.yaml`,
}

var configureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configured profiles",
	Long: `List all profiles configured in the config file.

The default profile is marked with an asterisk (*).`,
	RunE: runConfigureList,
}

var configureAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a new profile",
	Long: `Add a new profile interactively.

You will be prompted for the backend kind (s3, webdav, fs) and its
connection settings. For HTTP backends the endpoint is probed before
saving.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigureAdd,
}

var configureRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a profile",
	Args:    cobra.ExactArgs(1),
	RunE:    runConfigureRemove,
}

var configureSetDefaultCmd = &cobra.Command{
	Use:   "set-default <name>",
	Short: "Set the default profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigureSetDefault,
}

var configureShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show profile details",
	Long: `Show details for a profile.

If no name is provided, shows the default profile.
Secrets are hidden by default; use --show-secrets to reveal them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigureShow,
}

var showSecrets bool

func init() {
	configureCmd.AddCommand(configureListCmd)
	configureCmd.AddCommand(configureAddCmd)
	configureCmd.AddCommand(configureRemoveCmd)
	configureCmd.AddCommand(configureSetDefaultCmd)
	configureCmd.AddCommand(configureShowCmd)

	configureShowCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configureListCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
}

func runConfigureList(_ *cobra.Command, _ []string) error {
	configPath := getConfigPath()

	cfg, err := cli.LoadConfigFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No profiles configured.")
			fmt.Println("Run 'lighter-cli configure add <name>' to create one.")
			return nil
		}
		return fmt.Errorf("load config: %w", err)
	}

	if len(cfg.Profiles) == 0 {
		fmt.Println("No profiles configured.")
		fmt.Println("Run 'lighter-cli configure add <name>' to create one.")
		return nil
	}

	defaultName := ""
	for _, p := range cfg.Profiles {
		if p.Default {
			defaultName = p.Name
			break
		}
	}
	if defaultName == "" && len(cfg.Profiles) > 0 {
		defaultName = cfg.Profiles[0].Name
	}

	formatter := getFormatter()
	return formatter.FormatProfileList(os.Stdout, cfg.Profiles, defaultName, showSecrets)
}

func runConfigureAdd(_ *cobra.Command, args []string) error {
	name := args[0]
	configPath := getConfigPath()

	cfg, err := cli.LoadConfigFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = &cli.ConfigFile{}
		} else {
			return fmt.Errorf("load config: %w", err)
		}
	}

	existingProfile, _ := cfg.GetProfile(name)
	if existingProfile != nil {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("Profile '%s' already exists. Update it", name),
			IsConfirm: true,
		}
		if _, promptErr := prompt.Run(); promptErr != nil {
			fmt.Println("Cancelled.")
			return nil //nolint:nilerr // User cancelled, not an error
		}
	}

	kindSelect := promptui.Select{
		Label: "Backend kind",
		Items: []string{string(lighter.KindS3), string(lighter.KindWebDAV), string(lighter.KindFS)},
	}
	_, kindStr, err := kindSelect.Run()
	if err != nil {
		return handlePromptError(err)
	}
	kind := lighter.Kind(kindStr)

	endpointLabel := "Endpoint URL"
	if kind == lighter.KindFS {
		endpointLabel = "Directory path"
	}
	endpointPrompt := promptui.Prompt{
		Label: endpointLabel,
		Validate: func(input string) error {
			if input == "" {
				return errors.New("endpoint is required")
			}
			if kind == lighter.KindFS {
				return nil
			}
			parsedURL, parseErr := url.Parse(input)
			if parseErr != nil {
				return fmt.Errorf("invalid URL: %w", parseErr)
			}
			if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
				return errors.New("URL must start with http:// or https://")
			}
			return nil
		},
	}
	endpoint, err := endpointPrompt.Run()
	if err != nil {
		return handlePromptError(err)
	}

	newProfile := cli.Profile{
		Name:     name,
		Kind:     kindStr,
		Endpoint: endpoint,
	}

	if kind != lighter.KindFS {
		accessPrompt := promptui.Prompt{Label: "Access ID"}
		if newProfile.AccessID, err = accessPrompt.Run(); err != nil {
			return handlePromptError(err)
		}

		secretPrompt := promptui.Prompt{Label: "Secret", Mask: '*'}
		if newProfile.Secret, err = secretPrompt.Run(); err != nil {
			return handlePromptError(err)
		}
	}

	if kind == lighter.KindS3 {
		regionPrompt := promptui.Prompt{Label: "Region", Default: "us-east-1"}
		if newProfile.Region, err = regionPrompt.Run(); err != nil {
			return handlePromptError(err)
		}

		bucketPrompt := promptui.Prompt{
			Label: "Bucket",
			Validate: func(input string) error {
				if input == "" {
					return errors.New("bucket is required")
				}
				return nil
			},
		}
		if newProfile.Bucket, err = bucketPrompt.Run(); err != nil {
			return handlePromptError(err)
		}
	}

	basePathPrompt := promptui.Prompt{Label: "Base path (optional)"}
	if newProfile.BasePath, err = basePathPrompt.Run(); err != nil {
		return handlePromptError(err)
	}

	setAsDefault := false
	if len(cfg.Profiles) == 0 {
		setAsDefault = true // First profile is always default
	} else {
		defaultPrompt := promptui.Prompt{
			Label:     "Set as default profile",
			IsConfirm: true,
		}
		if _, promptErr := defaultPrompt.Run(); promptErr == nil {
			setAsDefault = true
		}
	}
	newProfile.Default = setAsDefault

	if kind != lighter.KindFS {
		fmt.Print("Testing connection... ")
		if connErr := testEndpoint(endpoint); connErr != nil {
			fmt.Println("FAILED")
			fmt.Printf("Warning: Could not connect to backend: %v\n", connErr)

			continuePrompt := promptui.Prompt{
				Label:     "Save profile anyway",
				IsConfirm: true,
			}
			if _, promptErr := continuePrompt.Run(); promptErr != nil {
				fmt.Println("Cancelled.")
				return nil //nolint:nilerr // User cancelled, not an error
			}
		} else {
			fmt.Println("OK")
		}
		newProfile.Endpoint = strings.TrimSuffix(endpoint, "/")
	}

	if setAsDefault {
		for i := range cfg.Profiles {
			cfg.Profiles[i].Default = false
		}
	}

	if existingProfile != nil {
		err = cfg.UpdateProfile(newProfile)
	} else {
		err = cfg.AddProfile(newProfile)
	}
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if existingProfile != nil {
		fmt.Printf("Profile '%s' updated.\n", name)
	} else {
		fmt.Printf("Profile '%s' added.\n", name)
	}

	if setAsDefault {
		fmt.Printf("Set as default profile.\n")
	}

	return nil
}

func runConfigureRemove(_ *cobra.Command, args []string) error {
	name := args[0]
	configPath := getConfigPath()

	cfg, err := cli.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err = cfg.GetProfile(name); err != nil {
		return err
	}

	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Remove profile '%s'", name),
		IsConfirm: true,
	}
	if _, promptErr := prompt.Run(); promptErr != nil {
		fmt.Println("Cancelled.")
		return nil //nolint:nilerr // User cancelled, not an error
	}

	if err := cfg.RemoveProfile(name); err != nil {
		return fmt.Errorf("remove profile: %w", err)
	}

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Profile '%s' removed.\n", name)
	return nil
}

func runConfigureSetDefault(_ *cobra.Command, args []string) error {
	name := args[0]
	configPath := getConfigPath()

	cfg, err := cli.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.SetDefault(name); err != nil {
		return err
	}

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Default profile set to '%s'.\n", name)
	return nil
}

func runConfigureShow(_ *cobra.Command, args []string) error {
	configPath := getConfigPath()

	cfg, err := cli.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	p, err := cfg.GetProfile(name)
	if err != nil {
		return err
	}

	isDefault := p.Default
	if !isDefault && name == "" {
		isDefault = true // If we got here with empty name, it's the default
	}

	formatter := getFormatter()
	return formatter.FormatProfileShow(os.Stdout, *p, isDefault, showSecrets)
}

// testEndpoint checks if the backend is reachable.
// Any HTTP response counts as success, auth failures included.
func testEndpoint(endpointURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return nil
}

// handlePromptError handles promptui errors.
func handlePromptError(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) {
		fmt.Println("\nCancelled.")
		os.Exit(0)
	}
	if errors.Is(err, promptui.ErrAbort) {
		fmt.Println("Cancelled.")
		return nil
	}
	return err
}
