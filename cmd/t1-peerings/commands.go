package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/config"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/driver"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/peering"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/ribs"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/rislive"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "t1-peerings",
		Short:         "Scan BGP RIB dumps for Tier-1 peerings and their relationships",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterGlobal(root.PersistentFlags())

	root.AddCommand(
		newDownloadCmd(),
		newFileCmd(),
		newFilesCmd(),
		newLiveCmd(),
		newMirrorCmd(),
	)
	return root
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the day's RIB dumps of every collector, then parse them",
		Long: `Download the RIB dumps taken at 00:00 on the given day by every RIS and
RouteViews collector, then parse them one file per worker. Files already
present in the RIBs directory are not downloaded again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), func(ctx context.Context) error {
				files, err := a.download(ctx)
				if err != nil {
					return err
				}
				return a.parse(ctx, files)
			})
		},
	}
	config.RegisterDownload(cmd.Flags())
	return cmd
}

func newFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file <rib-file>",
		Short: "Parse one local RIB file, split across workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), func(ctx context.Context) error {
				return a.parse(ctx, args)
			})
		},
	}
}

func newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <rib-file>...",
		Short: "Parse several local RIB files, one file per worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), func(ctx context.Context) error {
				return a.parse(ctx, args)
			})
		},
	}
}

func newLiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Scan announcements from RIPE RIS Live for a fixed duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(cmd.Context(), a.live)
		},
	}
	config.RegisterLive(cmd.Flags())
	return cmd
}

func newMirrorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mirror [peering-file]",
		Short: "Add the reverse direction of every one-way peering in a peering file",
		Long: `Read a peering file (default --peering-output), add the reverse of every
peering only seen in one direction, with Customer and Upstream swapped, and
write the result to --mirrored-output.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			input := a.cfg.PeeringOutput
			if len(args) == 1 {
				input = args[0]
			}
			if a.cfg.MirroredOutput == "" {
				return errors.Errorf("--%s is required", config.FlagMirroredOutput)
			}
			ix, err := peering.ReadIndexFile(input)
			if err != nil {
				return err
			}
			mirrored := ix.Mirror()
			a.log.Infof("Mirrored %d peerings into %d", ix.Len(), mirrored.Len())
			return peering.WriteFile(a.cfg.MirroredOutput, mirrored)
		},
	}
}

// download fetches the day's RIB dumps and returns the local files that are
// available. Files that failed to download are logged and left out.
func (a *app) download(ctx context.Context) ([]string, error) {
	day := a.cfg.Day(time.Now())
	client := &http.Client{Timeout: 30 * time.Minute}

	broker := ribs.NewBroker(a.cfg.BrokerURL, client, a.log)
	items, err := broker.DailyRIBs(ctx, day)
	if err != nil {
		return nil, err
	}
	files := ribs.Files(items, a.cfg.RibsDir)
	if len(files) == 0 {
		return nil, errors.Errorf("no RIB dumps found for %s", day)
	}
	a.log.Infof("Found %d RIB dumps for %s", len(files), day)

	downloader := ribs.NewDownloader(client, a.cfg.DownloadWorkers, a.cfg.DownloadRate, a.log)
	paths, failed := downloader.Download(ctx, files)
	if len(failed) > 0 {
		a.log.Warnf("%d of %d RIB dumps could not be downloaded", len(failed), len(files))
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("none of the %d RIB dumps for %s could be downloaded", len(files), day)
	}
	return paths, nil
}

// parse runs the driver over files. Failed files are reported, but the run
// only fails if no file could be parsed.
func (a *app) parse(ctx context.Context, files []string) error {
	report := a.driver.ParseFiles(ctx, files)
	if !report.OK() {
		failed := make([]string, len(report.Failed))
		for i, f := range report.Failed {
			failed[i] = f.File
		}
		a.log.Warnf("%d of %d RIB files failed, results are partial: %v", len(failed), report.Files, failed)
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "parsing interrupted")
	}
	if report.Files > 0 && len(report.Failed) == report.Files {
		return errors.Errorf("all %d RIB files failed", report.Files)
	}
	return nil
}

// live scans RIS Live announcements until the configured duration elapses or
// ctx is cancelled.
func (a *app) live(ctx context.Context) error {
	client := rislive.NewMultiClient(a.cfg.LiveURL, a.cfg.Collectors, a.cfg.BufferSize, a.log)
	if err := a.metrics.Register(driver.NewStatsCollector("rislive", client.Stats)); err != nil {
		return err
	}

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		a.driver.ScanStream(client.Routes())
	}()
	client.Start()

	timer := time.NewTimer(a.cfg.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		a.log.Infof("Listened for %v", a.cfg.Duration)
	case <-ctx.Done():
		a.log.Info("Interrupted, writing results")
	}

	client.Stop()
	<-scanned
	return nil
}
