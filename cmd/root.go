// cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ColonelBlimp/stimcore/internal/cli/stimulate"
	"github.com/ColonelBlimp/stimcore/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "stimcore",
	Short: "Transcranial stimulator control core",
	Long: `Drives a transcranial stimulator: plays the session waveform through the
output device, measures the electrode current from the input device and
answers host commands on the serial link.`,
	SilenceUsage: true,
	RunE:         runStimulator,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the stimulator on the configured devices (the default command)",
	RunE:  runStimulator,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("output-device", "o", -1, "output device index (-1 for default)")
	rootCmd.PersistentFlags().IntP("input-device", "i", -1, "input device index (-1 for default)")
	rootCmd.PersistentFlags().StringP("serial", "s", "", "host link serial port (empty disables the link)")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	// Bind flags to viper
	viper.BindPFlag("output_device_index", rootCmd.PersistentFlags().Lookup("output-device"))
	viper.BindPFlag("input_device_index", rootCmd.PersistentFlags().Lookup("input-device"))
	viper.BindPFlag("serial_port", rootCmd.PersistentFlags().Lookup("serial"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

func runStimulator(cmd *cobra.Command, args []string) error {
	cfg, err := config.Get()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	s, err := stimulate.NewStimulator(cfg, stimulate.Options{Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}
