package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"vinscan/internal/api"
	"vinscan/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit     int
		sessionID string
		foundOnly bool
		viaDaemon bool
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded scan results",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp *api.HistoryResponse
			if viaDaemon {
				client, err := ctx.client()
				if err != nil {
					return err
				}
				resp, err = client.History(cmd.Context(), limit, sessionID, foundOnly)
				if err != nil {
					return err
				}
			} else {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				store, err := history.Open(cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				scans, err := store.List(cmd.Context(), history.ListOptions{
					Limit:     limit,
					SessionID: sessionID,
					FoundOnly: foundOnly,
				})
				if err != nil {
					return err
				}
				summary, err := store.Summarize(cmd.Context())
				if err != nil {
					return err
				}
				resp = &api.HistoryResponse{Scans: api.FromScans(scans), Summary: api.FromSummary(summary)}
			}

			if jsonOut {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(resp.Scans) == 0 {
				fmt.Fprintln(out, "No scans recorded")
				return nil
			}
			rows := make([][]string, 0, len(resp.Scans))
			for _, scan := range resp.Scans {
				barcode := scan.Barcode
				if !scan.Found {
					barcode = "-"
				}
				valid := ""
				if scan.Found {
					valid = yesNo(scan.VINValid)
				}
				rows = append(rows, []string{
					strconv.FormatInt(scan.ID, 10),
					relativeTime(scan.CreatedAt),
					shortID(scan.SessionID),
					scan.DeviceID,
					barcode,
					valid,
				})
			}
			writeRows(out, []string{"ID", "When", "Session", "Device", "Barcode", "Valid VIN"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignCenter})
			fmt.Fprintf(out, "%s scans, %s with a barcode, %s valid VINs\n",
				humanize.Comma(resp.Summary.Total), humanize.Comma(resp.Summary.Found), humanize.Comma(resp.Summary.Valid))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to show (0 for all)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Only show scans from this session")
	cmd.Flags().BoolVar(&foundOnly, "found", false, "Only show scans where a barcode was read")
	cmd.Flags().BoolVar(&viaDaemon, "daemon", false, "Query the running daemon")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func relativeTime(value string) string {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return humanize.Time(ts)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
