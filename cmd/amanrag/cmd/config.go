package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/configs"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage amanrag configuration.

Configuration is layered, later layers winning:
  1. built-in defaults
  2. user config ($XDG_CONFIG_HOME/amanrag/config.yaml)
  3. project config (.amanrag.yaml in --dir)
  4. AMANRAG_* environment variables`,
	}

	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigValidateCmd(root))
	cmd.AddCommand(newConfigInitCmd(root))
	cmd.AddCommand(newConfigRestoreCmd())
	cmd.AddCommand(newConfigPathCmd(root))
	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			data, err := cfg.EncodeYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Success("Configuration is valid")
			out.Statusf(" ", "data dir: %s", cfg.DataDir)
			out.Statusf(" ", "vector store: %s, embeddings: %s, classifier: %s",
				cfg.Stores.Vector, cfg.Embeddings.Provider, cfg.Intent.Classifier)
			return nil
		},
	}
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force, effective bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default user configuration",
		Long: `Write the commented configuration template to the user config file.
With --effective the current effective configuration is written instead.
An existing file is kept unless --force is given, in which case it is
backed up first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			content := []byte(configs.UserConfigTemplate)
			if effective {
				cfg, err := root.loadConfig()
				if err != nil {
					return err
				}
				if content, err = cfg.EncodeYAML(); err != nil {
					return err
				}
			}
			path, backup, err := config.InitUserConfig(content, force)
			if err != nil {
				return err
			}
			if backup != "" {
				out.Statusf(" ", "backed up previous config to %s", backup)
			}
			out.Successf("Wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing user config")
	cmd.Flags().BoolVar(&effective, "effective", false, "Write the effective configuration instead of the template")
	return cmd
}

func newConfigRestoreCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the user configuration from a backup",
		Long: `Restore the user configuration from a backup made by 'config init --force'.
Without an argument the newest backup is restored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return err
			}
			if list {
				for _, b := range backups {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), b)
				}
				return nil
			}

			var target string
			switch {
			case len(args) == 1:
				target = args[0]
			case len(backups) > 0:
				target = backups[0]
			default:
				return fmt.Errorf("no backups found for %s", config.GetUserConfigPath())
			}
			if err := config.RestoreUserConfig(target); err != nil {
				return err
			}
			out.Successf("Restored %s from %s", config.GetUserConfigPath(), target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List backups, newest first")
	return cmd
}

func newConfigPathCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file locations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "user:    %s\n", config.GetUserConfigPath())
			project := config.ProjectConfigPath(root.dir)
			if project == "" {
				project = "(none)"
			}
			_, _ = fmt.Fprintf(w, "project: %s\n", project)
			if root.configFile != "" {
				_, _ = fmt.Fprintf(w, "explicit: %s\n", root.configFile)
			}
			return nil
		},
	}
}
