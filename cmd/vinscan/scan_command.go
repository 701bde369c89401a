package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"vinscan/internal/api"
	"vinscan/internal/device"
	"vinscan/internal/history"
	"vinscan/internal/scanner"
	"vinscan/internal/session"
)

type scanOptions struct {
	device    string
	image     string
	count     int
	interval  time.Duration
	viaDaemon bool
	noRecord  bool
	jsonOut   bool
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var opts scanOptions

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Capture stills and decode VIN barcodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			if opts.image != "" && opts.device != "" {
				return fmt.Errorf("--image and --device are mutually exclusive")
			}
			var (
				results []api.ScanResult
				err     error
			)
			if opts.viaDaemon {
				results, err = scanViaDaemon(cmd.Context(), ctx, opts)
			} else {
				results, err = scanLocally(cmd.Context(), ctx, opts)
			}
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd, results)
			}
			writeRows(cmd.OutOrStdout(), []string{"Task", "Barcode", "Valid VIN", "Canonical"}, scanRows(results),
				[]columnAlignment{alignRight, alignLeft, alignCenter, alignLeft})
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.device, "device", "d", "", "Capture device (defaults to capture.device or the first enabled camera)")
	cmd.Flags().StringVar(&opts.image, "image", "", "Decode a still image or a directory of stills instead of a camera")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "Number of decode requests")
	cmd.Flags().DurationVar(&opts.interval, "interval", 250*time.Millisecond, "Delay between decode requests")
	cmd.Flags().BoolVar(&opts.viaDaemon, "daemon", false, "Scan through the running daemon")
	cmd.Flags().BoolVar(&opts.noRecord, "no-record", false, "Do not write results to scan history")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Emit JSON")
	return cmd
}

func scanLocally(cmdCtx context.Context, ctx *commandContext, opts scanOptions) ([]api.ScanResult, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := ctx.cliLogger()

	var store *history.Store
	if cfg.History.Enabled && !opts.noRecord {
		store, err = history.Open(cfg)
		if err != nil {
			return nil, err
		}
		defer store.Close()
	}

	var (
		mu      sync.Mutex
		results []api.ScanResult
	)
	collect := scanner.PublisherFunc(func(ev scanner.Event) {
		if res := api.FromResultEvent(ev); res != nil {
			mu.Lock()
			results = append(results, *res)
			mu.Unlock()
		}
	})

	sessionOpts := session.ConfigOptions(cfg, logger)
	target := opts.device
	if opts.image != "" {
		sessionOpts = append(sessionOpts, session.WithOpener(device.FileOpener{}))
		target = opts.image
	}
	svc := scanner.New(cfg, store, collect, logger, scanner.WithSessionOptions(sessionOpts...))

	startCtx, cancel := context.WithTimeout(cmdCtx, cfg.StartTimeout())
	_, err = svc.Start(startCtx, target)
	cancel()
	if err != nil {
		_ = svc.Close(context.Background())
		return nil, err
	}

	requestErr := issueRequests(cmdCtx, opts, func(ctx context.Context) error {
		_, err := svc.Request(ctx)
		return err
	})

	// Stop drains every accepted task, so all results are collected once it returns.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout())
	defer cancel()
	if _, err := svc.Stop(stopCtx); err != nil {
		return nil, err
	}
	if err := svc.Close(stopCtx); err != nil {
		return nil, err
	}
	if requestErr != nil {
		return nil, requestErr
	}

	mu.Lock()
	defer mu.Unlock()
	return results, nil
}

func scanViaDaemon(cmdCtx context.Context, ctx *commandContext, opts scanOptions) ([]api.ScanResult, error) {
	if opts.noRecord {
		return nil, fmt.Errorf("--no-record is not supported with --daemon")
	}
	client, err := ctx.client()
	if err != nil {
		return nil, err
	}
	cfg := ctx.configValue()

	status, err := client.Status(cmdCtx)
	if err != nil {
		return nil, err
	}
	owned := false
	if status.Session == nil {
		target := opts.device
		if opts.image != "" {
			target = opts.image
		}
		if _, err := client.StartSession(cmdCtx, target); err != nil {
			return nil, err
		}
		owned = true
	}

	streamCtx, cancelStream := context.WithCancel(cmdCtx)
	defer cancelStream()
	ready := make(chan struct{})
	incoming := make(chan api.ScanResult, opts.count*4+16)
	streamDone := make(chan error, 1)
	go func() {
		var once sync.Once
		streamDone <- client.Stream(streamCtx, func(msg api.StreamMessage) bool {
			switch msg.Type {
			case api.StreamHello:
				once.Do(func() { close(ready) })
			case api.StreamResult:
				select {
				case incoming <- *msg.Result:
				default:
				}
			}
			return true
		})
	}()
	select {
	case <-ready:
	case err := <-streamDone:
		return nil, fmt.Errorf("subscribe to results: %w", err)
	case <-cmdCtx.Done():
		return nil, cmdCtx.Err()
	}

	wanted := make(map[uint64]bool, opts.count)
	var idMu sync.Mutex
	requestErr := issueRequests(cmdCtx, opts, func(ctx context.Context) error {
		id, err := client.Decode(ctx)
		if err == nil {
			idMu.Lock()
			wanted[id] = true
			idMu.Unlock()
		}
		return err
	})

	wait := time.Duration(opts.count)*cfg.CaptureTimeout() + cfg.StopTimeout()
	timeout := time.After(wait)
	var results []api.ScanResult
	for collecting := true; collecting; {
		idMu.Lock()
		remaining := len(wanted)
		idMu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case res := <-incoming:
			idMu.Lock()
			if wanted[res.TaskID] {
				delete(wanted, res.TaskID)
				results = append(results, res)
			}
			idMu.Unlock()
		case <-timeout:
			collecting = false
		case <-cmdCtx.Done():
			collecting = false
		}
	}

	if owned {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout())
		defer cancel()
		if _, err := client.StopSession(stopCtx); err != nil {
			return results, err
		}
	}
	if requestErr != nil {
		return results, requestErr
	}
	idMu.Lock()
	missing := len(wanted)
	idMu.Unlock()
	if missing > 0 {
		return results, fmt.Errorf("timed out waiting for %d results", missing)
	}
	return results, nil
}

func issueRequests(ctx context.Context, opts scanOptions, request func(context.Context) error) error {
	for i := 0; i < opts.count; i++ {
		if i > 0 && opts.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interval):
			}
		}
		if err := request(ctx); err != nil {
			return err
		}
	}
	return nil
}

func scanRows(results []api.ScanResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		barcode := "no barcode"
		valid := ""
		canonical := ""
		if r.Found {
			barcode = r.Barcode
			if r.VIN != nil {
				valid = yesNo(r.VIN.IsValid)
				if r.VIN.CanonicalOK && !strings.EqualFold(r.VIN.Canonical, r.Barcode) {
					canonical = r.VIN.Canonical
				}
			}
		}
		rows = append(rows, []string{strconv.FormatUint(r.TaskID, 10), barcode, valid, canonical})
	}
	return rows
}
