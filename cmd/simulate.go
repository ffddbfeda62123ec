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
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the engine against a simulated electrode",
	Long: `Runs the full engine with the audio devices replaced by a simulated
output stage, electrode and current sensor. The host link and telemetry
behave as in a normal run.`,
	RunE: runSimulation,
}

func init() {
	simulateCmd.Flags().Bool("open-electrode", false, "simulate a detached electrode")
	simulateCmd.Flags().Float64("contact", 0, "fraction of the commanded current reaching the sensor (0 for perfect contact)")
	simulateCmd.Flags().Uint64("seed", 1, "sensor noise seed")
	simulateCmd.Flags().Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	simulateCmd.Flags().Bool("start", false, "start a session immediately")
	simulateCmd.Flags().Bool("monitor", true, "print a status line every status interval")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := config.Get()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	flags := cmd.Flags()
	opts := stimulate.Options{
		Simulate: true,
		Logger:   log.New(cmd.ErrOrStderr(), "", log.LstdFlags),
	}
	opts.OpenElectrode, _ = flags.GetBool("open-electrode")
	opts.Contact, _ = flags.GetFloat64("contact")
	opts.Seed, _ = flags.GetUint64("seed")
	opts.AutoStart, _ = flags.GetBool("start")
	if monitor, _ := flags.GetBool("monitor"); monitor {
		opts.Monitor = cmd.OutOrStdout()
	}
	if opts.Contact < 0 || opts.Contact > 1 {
		return fmt.Errorf("contact must be in [0, 1], got %v", opts.Contact)
	}

	s, err := stimulate.NewStimulator(cfg, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d, _ := flags.GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return s.Run(ctx)
}
