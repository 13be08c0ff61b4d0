package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mhcp0001/NescordBot-sub000/configs"
	"github.com/mhcp0001/NescordBot-sub000/internal/config"
	"github.com/mhcp0001/NescordBot-sub000/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long: `Manage the user configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/nescordsync/config.yaml)
  3. Environment variables (NESCORDSYNC_*)

The daemon watches the file and hot-applies tunable settings; storage
paths and embedding settings need a restart.`,
		Example: `  # Create user config from template
  nescordsync config init

  # Show effective configuration (merged from all sources)
  nescordsync config show

  # Print user config file path
  nescordsync config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file",
		Long: `Create the user configuration file from the commented template.

With --force an existing file is backed up next to itself and then
replaced with a fresh template; 'nescordsync config restore' brings
the backup back.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing configuration (backs it up first)")

	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	path := config.GetUserConfigPath()
	dir := config.GetUserConfigDir()

	if config.UserConfigExists() {
		if !force {
			out.Warning("User configuration already exists")
			out.Statusf("📁", "Location: %s", path)
			out.Newline()
			out.Status("💡", "Use --force to replace it (the old file is backed up)")
			return nil
		}
		backupPath, err := config.BackupUserConfig()
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		out.Statusf("💾", "Backed up existing config to %s", backupPath)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(configs.UserConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created user configuration")
	out.Statusf("📁", "Location: %s", path)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Edit the file to customize settings")
	out.Status("", "  2. Run 'nescordsync config show' to verify")

	return nil
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging defaults, the user config
file, and NESCORDSYNC_* environment variables.

--source narrows the view: 'defaults' shows the hardcoded defaults,
'user' prints the raw user config file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, defaults")

	return cmd
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	w := cmd.OutOrStdout()

	var cfg *config.Config
	switch source {
	case "merged":
		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
	case "defaults":
		cfg = config.NewConfig()
	case "user":
		path := config.GetUserConfigPath()
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("no user config at %s (run 'nescordsync config init')", path)
			}
			return fmt.Errorf("failed to read user config: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown source %q (want merged, user, or defaults)", source)
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore [backup-file]",
		Short: "Restore the user config from a backup",
		Long: `Restore the user configuration from a backup created by
'nescordsync config init --force'. Without an argument the newest
backup is restored; pass a backup path to pick one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigRestore(cmd, args)
		},
	}
	return cmd
}

func runConfigRestore(cmd *cobra.Command, args []string) error {
	out := output.New(cmd.OutOrStdout())

	backupPath := ""
	if len(args) == 1 {
		backupPath = args[0]
	} else {
		backups, err := config.ListUserConfigBackups()
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		if len(backups) == 0 {
			return fmt.Errorf("no config backups found")
		}
		backupPath = backups[0]
	}

	if err := config.RestoreUserConfig(backupPath); err != nil {
		return fmt.Errorf("failed to restore config: %w", err)
	}

	out.Success("Configuration restored")
	out.Statusf("📁", "From: %s", backupPath)
	return nil
}
