package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chatcore/internal/rag/index"
)

func runIndex(cmd *cobra.Command, watch bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer a.Close(cmd.Context())

	idx, loader, err := a.openIndex()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	stats, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	count, err := idx.Count(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %d files (%d chunks, %d empty skipped); index holds %d chunks\n",
		stats.Files, stats.Chunks, stats.Skipped, count)
	for _, name := range stats.Failed {
		fmt.Fprintf(out, "  failed: %s\n", name)
	}
	if !watch {
		return nil
	}

	fmt.Fprintf(out, "Watching %s for changes\n", loader.Dir())
	return index.NewWatcher(loader, cfg.Retrieval.WatchDebounce, a.logger).Run(ctx)
}
