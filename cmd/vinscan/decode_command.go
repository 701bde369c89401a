package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vinscan/internal/decoder"
	"vinscan/internal/vin"
)

type decodeOutput struct {
	Path    string    `json:"path"`
	Found   bool      `json:"found"`
	Barcode string    `json:"barcode,omitempty"`
	VIN     *vin.Info `json:"vin,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func newDecodeCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var rotate bool

	cmd := &cobra.Command{
		Use:   "decode IMAGE...",
		Short: "Decode Code 39 barcodes from still images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			symbology, err := decoder.ParseSymbology(cfg.Decoder.Symbology)
			if err != nil {
				return err
			}
			opts := decoder.Options{
				Symbology:  symbology,
				TryHarder:  cfg.Decoder.TryHarder,
				AutoRotate: cfg.Decoder.AutoRotate || rotate,
			}
			reader := decoder.NewReader()

			results := make([]decodeOutput, 0, len(args))
			for _, path := range args {
				results = append(results, decodeFile(reader, path, opts))
			}
			if jsonOut {
				return writeJSON(cmd, results)
			}

			rows := make([][]string, 0, len(results))
			failed := 0
			for _, r := range results {
				status := "no barcode"
				valid := ""
				switch {
				case r.Error != "":
					status = r.Error
					failed++
				case r.Found:
					status = r.Barcode
					valid = yesNo(r.VIN.IsValid)
				}
				rows = append(rows, []string{r.Path, status, valid})
			}
			writeRows(cmd.OutOrStdout(), []string{"Image", "Barcode", "Valid VIN"}, rows, nil)
			if failed > 0 {
				return fmt.Errorf("%d images could not be read", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	cmd.Flags().BoolVar(&rotate, "rotate", false, "Also try rotated orientations")
	return cmd
}

func decodeFile(reader *decoder.Reader, path string, opts decoder.Options) decodeOutput {
	out := decodeOutput{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	frame, err := decoder.DecodeBGRA(data)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	text, found, err := reader.DecodeFrame(frame, opts)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Found = found
	if found {
		out.Barcode = text
		info := vin.Validate(text)
		out.VIN = &info
	}
	return out
}
