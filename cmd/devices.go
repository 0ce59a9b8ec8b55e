package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/alarmwatch/internal/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	Args:  cobra.NoArgs,
	RunE:  listDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func listDevices(cmd *cobra.Command, _ []string) error {
	capture := audio.New(audio.DefaultConfig())
	defer capture.Close()

	if err := capture.Init(); err != nil {
		return setupError(fmt.Errorf("audio: %w", err))
	}

	devices, err := capture.ListDevices()
	if err != nil {
		return setupError(fmt.Errorf("audio: %w", err))
	}

	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "no capture devices found")
		return nil
	}
	for i, d := range devices {
		marker := " "
		if d.IsDefault != 0 {
			marker = "*"
		}
		fmt.Fprintf(out, "%s [%d] %s\n", marker, i, d.Name())
	}
	return nil
}
