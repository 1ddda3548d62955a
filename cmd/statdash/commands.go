package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/internal/config"
	"github.com/statdash/statdash/pkg/errors"
)

func newGetCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <indicator>",
		Short: "Print an indicator table, loading it through the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			table, err := a.cache.GetOrLoad(cmd.Context(), args[0], a.loader)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(table)
			}
			if table.Empty() {
				fmt.Fprintf(cmd.ErrOrStderr(), "indicator %s has no rows\n", args[0])
			}
			return table.WriteCSV(out)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of CSV")
	return cmd
}

func newPreloadCmd(opts *rootOptions) *cobra.Command {
	var goal string

	cmd := &cobra.Command{
		Use:   "preload [indicator...]",
		Short: "Warm the disk cache for a goal or a list of indicators",
		Long: `Load indicators into the cache ahead of time.

Either name a goal from the catalog with --goal or list indicator ids.
The command waits for the job to finish and prints a summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (goal == "") == (len(args) == 0) {
				return fmt.Errorf("give either --goal or indicator ids")
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			var jobID string
			switch {
			case goal != "" && a.catalog == nil:
				err = errors.New(errors.ErrCodeCatalogNotFound, "no catalog configured").WithKey(cfg.Catalog.File)
			case goal != "":
				jobID, err = a.catalog.PreloadGoal(goal)
			default:
				jobID, err = a.cache.Preload(args, a.loader)
			}
			if err != nil {
				a.close(context.Background())
				return err
			}

			// Close drains the queue, so the job is finished afterwards.
			a.close(cmd.Context())

			job, err := a.jobs.Get(jobID)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "job\t%s\n", job.ID)
			fmt.Fprintf(w, "status\t%s\n", job.Status)
			fmt.Fprintf(w, "keys\t%d\n", job.Progress.Total)
			fmt.Fprintf(w, "stored\t%d\n", job.Stored)
			fmt.Fprintf(w, "skipped\t%d\n", job.Skipped)
			fmt.Fprintf(w, "failed\t%d\n", job.Failed)
			if job.StartTime != nil && job.EndTime != nil {
				fmt.Fprintf(w, "took\t%s\n", job.EndTime.Sub(*job.StartTime).Round(time.Millisecond))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&goal, "goal", "g", "", "goal id from the catalog")
	return cmd
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [indicator]",
		Short: "Remove one indicator, or everything, from the disk cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			mgr, err := cache.NewManager(cfg.Cache.ManagerConfig())
			if err != nil {
				return err
			}
			defer mgr.Close(context.Background())

			if len(args) == 1 {
				mgr.Clear(args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
				return nil
			}
			files, _, _ := mgr.DiskUsage()
			mgr.ClearAll()
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s cached tables\n", humanize.Comma(int64(files)))
			return nil
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Long: `Show cache statistics.

Without --server only the disk cache can be inspected. With --server the
counters of a running instance are fetched from its /cache/stats route.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server != "" {
				return printRemoteStats(cmd.Context(), cmd.OutOrStdout(), server)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			mgr, err := cache.NewManager(cfg.Cache.ManagerConfig())
			if err != nil {
				return err
			}
			defer mgr.Close(context.Background())

			files, size, err := mgr.DiskUsage()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "directory\t%s\n", cfg.Cache.Directory)
			fmt.Fprintf(w, "disk ttl\t%s\n", cfg.Cache.DiskTTL())
			fmt.Fprintf(w, "tables on disk\t%s\n", humanize.Comma(int64(files)))
			fmt.Fprintf(w, "disk usage\t%s\n", humanize.Bytes(uint64(size)))
			fmt.Fprintf(w, "memory capacity\t%d\n", cfg.Cache.MemoryCapacity)
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "base URL of a running statdash, e.g. http://localhost:8080")
	return cmd
}

type remoteStats struct {
	Stats      cache.Statistics `json:"stats"`
	MemoryKeys []string         `json:"memory_keys"`
	Disk       *struct {
		Files int   `json:"files"`
		Bytes int64 `json:"bytes"`
	} `json:"disk"`
	DiskError string `json:"disk_error"`
}

func printRemoteStats(ctx context.Context, out io.Writer, server string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(server, "/")+"/cache/stats", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", server, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s answered %s", server, resp.Status)
	}

	var rs remoteStats
	if err := json.NewDecoder(resp.Body).Decode(&rs); err != nil {
		return fmt.Errorf("failed to decode stats: %w", err)
	}

	s := rs.Stats
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "requests\t%s\n", humanize.Comma(int64(s.Requests())))
	fmt.Fprintf(w, "memory hits\t%s\n", humanize.Comma(int64(s.MemoryHits)))
	fmt.Fprintf(w, "disk hits\t%s\n", humanize.Comma(int64(s.DiskHits)))
	fmt.Fprintf(w, "misses\t%s\n", humanize.Comma(int64(s.Misses)))
	fmt.Fprintf(w, "hit rate\t%.1f%%\n", s.HitRate()*100)
	fmt.Fprintf(w, "evictions\t%s\n", humanize.Comma(int64(s.Evictions)))
	fmt.Fprintf(w, "preloads\t%s (%d failed, %d dropped)\n", humanize.Comma(int64(s.Preloads)), s.PreloadFailures, s.PreloadsDropped)
	fmt.Fprintf(w, "disk errors\t%d\n", s.DiskErrors)
	fmt.Fprintf(w, "memory\t%d / %d tables\n", s.MemoryEntries, s.MemoryCapacity)
	if rs.Disk != nil {
		fmt.Fprintf(w, "disk\t%s tables, %s\n", humanize.Comma(int64(rs.Disk.Files)), humanize.Bytes(uint64(rs.Disk.Bytes)))
	} else if rs.DiskError != "" {
		fmt.Fprintf(w, "disk\t%s\n", rs.DiskError)
	}
	return w.Flush()
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init <file>",
		Short: "Write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.NewDefault().SaveToFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Source.S3.SecretAccessKey != "" {
				cfg.Source.S3.SecretAccessKey = "********"
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	return cmd
}
