package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vinscan/internal/vin"
)

func newVINCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:         "vin VALUE...",
		Short:       "Validate VIN strings",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := make([]vin.Info, 0, len(args))
			for _, arg := range args {
				infos = append(infos, vin.Validate(arg))
			}
			if jsonOut {
				return writeJSON(cmd, infos)
			}
			rows := make([][]string, 0, len(infos))
			invalid := 0
			for _, info := range infos {
				if !info.IsValid {
					invalid++
				}
				rows = append(rows, vinRow(info))
			}
			writeRows(cmd.OutOrStdout(), vinHeaders, rows, nil)
			if invalid > 0 {
				return fmt.Errorf("%d of %d values are not valid VINs", invalid, len(infos))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

var vinHeaders = []string{"Input", "Valid", "Length", "Chars", "Checksum", "Canonical"}

func vinRow(info vin.Info) []string {
	canonical := ""
	if info.CanonicalOK {
		canonical = info.Canonical
		if info.IsChecksumValidAfterCanonicalization && !info.IsValid {
			canonical += " (checksum ok)"
		}
	}
	return []string{
		info.Input,
		yesNo(info.IsValid),
		yesNo(info.IsCorrectLength),
		yesNo(info.HasValidCharacters),
		yesNo(info.IsChecksumValid),
		canonical,
	}
}
