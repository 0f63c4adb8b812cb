package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tasselx/taimusic/internal/infra/audiocache"
)

// cacheCommand inspects and prunes the content cache offline.
func cacheCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or prune the audio cache",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show cache usage",
				Action: a.cacheStats,
			},
			{
				Name:    "ls",
				Aliases: []string{"list"},
				Usage:   "List cached entries, most recently used first",
				Action:  a.cacheList,
			},
			{
				Name:  "rm",
				Usage: "Remove one cached entry",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "url",
						Usage:    "Source URL of the entry",
						Required: true,
					},
				},
				Action: a.cacheRemove,
			},
			{
				Name:   "clear",
				Usage:  "Remove every cached entry",
				Action: a.cacheClear,
			},
		},
	}
}

func (a *app) openCache() (*audiocache.Cache, error) {
	return audiocache.Open(audiocache.Config{
		Path:     a.cfg.Cache.Path,
		MaxSize:  a.cfg.CacheMaxSize(),
		MaxFiles: a.cfg.Cache.MaxFiles,
	})
}

func (a *app) cacheStats(ctx context.Context, cmd *cli.Command) error {
	cache, err := a.openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	stats, err := cache.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Path:    %s\n", a.cfg.Cache.Path)
	fmt.Fprintf(a.out, "Entries: %d / %d\n", stats.TotalFiles, stats.MaxFiles)
	fmt.Fprintf(a.out, "Size:    %s / %s (%.1f%%)\n",
		audiocache.FormatSize(stats.TotalSize), audiocache.FormatSize(stats.MaxSize), stats.UsagePercentage)
	if stats.LastCleanup.IsZero() {
		fmt.Fprintln(a.out, "Cleanup: never")
	} else {
		fmt.Fprintf(a.out, "Cleanup: %s\n", stats.LastCleanup.Format(time.RFC3339))
	}
	return nil
}

func (a *app) cacheList(ctx context.Context, cmd *cli.Command) error {
	cache, err := a.openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	items, err := cache.List()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.out, "Cache is empty")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIZE\tLAST ACCESSED\tTITLE\tURL")
	for _, it := range items {
		title := ""
		if it.Metadata != nil {
			title = it.Metadata.Title
			if it.Metadata.Artist != "" {
				title = it.Metadata.Artist + " - " + title
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			audiocache.FormatSize(it.Size), it.LastAccessed.Format(time.DateTime), title, it.URL)
	}
	return w.Flush()
}

func (a *app) cacheRemove(ctx context.Context, cmd *cli.Command) error {
	cache, err := a.openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	url := cmd.String("url")
	if err := cache.Remove(url); err != nil {
		return fmt.Errorf("failed to remove %s: %w", url, err)
	}
	fmt.Fprintf(a.out, "Removed %s\n", url)
	return nil
}

func (a *app) cacheClear(ctx context.Context, cmd *cli.Command) error {
	cache, err := a.openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := cache.ClearAll(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Cache cleared")
	return nil
}
