package cmd

import (
	"fmt"

	"github.com/ColonelBlimp/stimcore/internal/config"
	"github.com/ColonelBlimp/stimcore/internal/waveform"
	"github.com/spf13/cobra"
)

var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Build and inspect noise presets",
}

var presetBuildCmd = &cobra.Command{
	Use:   "build [file]",
	Short: "Generate a band-limited noise preset",
	Long: `Generates one loop of band-limited noise and writes it as a preset file.
Without a file argument the configured preset path is used, which the
engine loads at startup in place of generated noise.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPresetBuild,
}

var presetInfoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Show a preset file header",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPresetInfo,
}

func init() {
	presetBuildCmd.Flags().Float64("low", waveform.NoiseLowHz, "lowest noise frequency in Hz")
	presetBuildCmd.Flags().Float64("high", waveform.NoiseHighHz, "highest noise frequency in Hz")
	presetBuildCmd.Flags().Uint64("seed", 1, "phase seed")
	presetBuildCmd.Flags().String("name", "", "preset name (defaults to a description of the band)")
	presetCmd.AddCommand(presetBuildCmd, presetInfoCmd)
	rootCmd.AddCommand(presetCmd)
}

func presetPath(args []string) (*config.Settings, string, error) {
	cfg, err := config.Get()
	if err != nil {
		return nil, "", fmt.Errorf("config: %w", err)
	}
	if len(args) > 0 {
		return cfg, args[0], nil
	}
	return cfg, cfg.PresetPath(), nil
}

func runPresetBuild(cmd *cobra.Command, args []string) error {
	cfg, path, err := presetPath(args)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	low, _ := flags.GetFloat64("low")
	high, _ := flags.GetFloat64("high")
	seed, _ := flags.GetUint64("seed")
	name, _ := flags.GetString("name")
	if !(low > 0) || high <= low || high > waveform.MaxFrequency {
		return fmt.Errorf("noise band must satisfy 0 < low < high <= %v Hz", waveform.MaxFrequency)
	}
	if name == "" {
		name = fmt.Sprintf("tRNS %.0f-%.0fHz", low, high)
	}

	loop := cfg.Loop()
	p := waveform.Preset{Name: waveform.TrimName(name), Samples: make([]int16, loop.Samples)}
	waveform.Noise(p.Samples, loop, low, high, seed)
	if err := waveform.SavePreset(path, p, loop); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %q (%d samples at %d Hz) to %s\n", p.Name, loop.Samples, loop.SampleRate, path)
	return nil
}

func runPresetInfo(cmd *cobra.Command, args []string) error {
	_, path, err := presetPath(args)
	if err != nil {
		return err
	}
	info, err := waveform.Inspect(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "name:    %q\nrate:    %d Hz\nsamples: %d\nloop:    %d ms\n",
		info.Name, info.SampleRate, info.SampleCount, info.LoopMS)
	return nil
}
