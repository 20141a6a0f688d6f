package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func runSessionsList(cmd *cobra.Command, owner string) error {
	a, err := openSessionsApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	list, err := a.store.ListByOwner(cmd.Context(), owner)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No sessions for %s\n", owner)
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tCREATED\tLAST ACCESSED\tTURNS")
	for _, s := range list {
		turns := "-"
		if s.Resident {
			turns = fmt.Sprint(s.Turns)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID,
			s.CreatedAt.Format(time.RFC3339), s.LastAccessed.Format(time.RFC3339), turns)
	}
	return w.Flush()
}

func runSessionsDelete(cmd *cobra.Command, id string) error {
	a, err := openSessionsApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	removed, err := a.store.Delete(cmd.Context(), id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("session %s not found", id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted.\n", id)
	return nil
}

// runSessionsSweep deletes the owner's durable sessions idle past timeout.
// The server sweeps resident sessions itself; this reaches sessions that
// were persisted and never reloaded.
func runSessionsSweep(cmd *cobra.Command, owner string, timeout time.Duration) error {
	a, err := openSessionsApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	if timeout <= 0 {
		timeout = a.cfg.Session.Timeout
	}
	ctx := cmd.Context()
	list, err := a.store.ListByOwner(ctx, owner)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-timeout)
	swept := 0
	for _, s := range list {
		if !s.LastAccessed.Before(cutoff) {
			continue
		}
		removed, err := a.store.Delete(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", s.ID, err)
		}
		if removed {
			swept++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Swept %d of %d sessions idle longer than %s\n", swept, len(list), timeout)
	return nil
}

func openSessionsApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	a := newApp(cfg)
	if _, err := a.openSessions(cmd.Context()); err != nil {
		_ = a.Close(cmd.Context())
		return nil, err
	}
	return a, nil
}
