package cmd

import (
	"github.com/ColonelBlimp/stimcore/internal/cli/stimulate"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices and serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		// print whatever was found even if one side failed
		d, err := stimulate.ListDevices()
		d.Print(cmd.OutOrStdout())
		return err
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
