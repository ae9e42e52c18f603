package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/phitk/render/internal/model"
	"github.com/phitk/render/internal/preset"
)

var (
	presetsArgFile string

	presetsCmd = &cobra.Command{
		Use:   "presets",
		Short: "Manage render setting presets",
	}

	presetsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPresets()
			if err != nil {
				return err
			}
			for _, p := range store.List() {
				s := p.Settings
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %dx%d@%d %s %s=%s\n",
					p.Name, s.Width(), s.Height(), s.FPS, s.VideoCodec(), s.BitrateControl, s.Bitrate)
			}
			return nil
		},
	}

	presetsAddCmd = &cobra.Command{
		Use:   "add NAME",
		Short: "Add a preset from a YAML settings file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPresets()
			if err != nil {
				return err
			}
			settings := model.DefaultRenderSettings()
			if presetsArgFile != "" {
				data, err := os.ReadFile(presetsArgFile)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &settings); err != nil {
					return fmt.Errorf("failed to parse %s: %w", presetsArgFile, err)
				}
			}
			return store.Add(args[0], settings)
		},
	}

	presetsRemoveCmd = &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPresets()
			if err != nil {
				return err
			}
			return store.Remove(args[0])
		},
	}
)

func init() {
	presetsAddCmd.Flags().StringVarP(&presetsArgFile, "file", "f", "", "YAML file with the settings (defaults when omitted)")

	presetsCmd.AddCommand(presetsListCmd, presetsAddCmd, presetsRemoveCmd)
	rootCmd.AddCommand(presetsCmd)
}

func openPresets() (*preset.Store, error) {
	cfg, _, err := loadConfig(os.Stderr)
	if err != nil {
		return nil, err
	}
	return preset.Open(cfg.Presets.Path)
}
