package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"vinscan/internal/api"
	"vinscan/internal/device"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var viaDaemon bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			var devices []api.Device
			if viaDaemon {
				client, err := ctx.client()
				if err != nil {
					return err
				}
				devices, err = client.Devices(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				infos, err := device.List(cmd.Context())
				if err != nil {
					return err
				}
				devices = api.FromDevices(infos)
			}

			if jsonOut {
				return writeJSON(cmd, devices)
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No capture devices found")
				return nil
			}
			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				rows = append(rows, []string{
					strconv.Itoa(d.Index), d.ID, d.Name, yesNo(d.Capture), yesNo(d.Enabled), d.Detail,
				})
			}
			writeRows(out, []string{"#", "Device", "Name", "Capture", "Enabled", "Detail"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignCenter, alignCenter, alignLeft})
			return nil
		},
	}
	cmd.Flags().BoolVar(&viaDaemon, "daemon", false, "Ask the running daemon instead of enumerating locally")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}
