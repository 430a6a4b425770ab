package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/conorfennell/recall/internal/config"
	"github.com/conorfennell/recall/internal/deck"
	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/scheduler"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

func runPlan(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("plan", pflag.ContinueOnError)
	dir := fs.String("dir", ".", "Deck directory or git URL to scan for markdown files")
	sessionID := fs.String("session", "", "Session to schedule for (a new UUID when empty)")
	planID := fs.String("plan", "", "Plan identifier echoed in the result (a new UUID when empty)")
	asJSON := fs.Bool("json", false, "Print the result as JSON")

	cfg, shutdownTelemetry, err := setup(ctx, fs, args)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	return plan(ctx, cfg, planOptions{
		Source:    *dir,
		SessionID: *sessionID,
		PlanID:    *planID,
		JSON:      *asJSON,
		Now:       time.Now(),
	}, slog.Default(), out)
}

type planOptions struct {
	Source    string
	SessionID string
	PlanID    string
	JSON      bool
	Now       time.Time
}

type planResult struct {
	SessionID string          `json:"session_id"`
	PlanID    string          `json:"plan_id"`
	Due       string          `json:"due"`
	Meta      domain.AlgoMeta `json:"meta"`
	Order     []string        `json:"order"`
}

func plan(ctx context.Context, cfg *config.Config, opts planOptions, logger *slog.Logger, out io.Writer) error {
	loader := &deck.Loader{ReposDir: cfg.Deck.ReposDir, Logger: logger}
	cards, err := loader.Load(ctx, opts.Source)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		return errors.New("no cards found in " + opts.Source)
	}

	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.PlanID == "" {
		opts.PlanID = uuid.NewString()
	}

	store, locker, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer store.Close()

	res, err := scheduler.New(store, locker, logger).Schedule(ctx, scheduler.Request{
		SessionID: opts.SessionID,
		PlanID:    opts.PlanID,
		Cards:     cards,
		Now:       opts.Now,
	})
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(planResult{
			SessionID: res.SessionID,
			PlanID:    res.PlanID,
			Due:       domain.FormatTime(res.Due),
			Meta:      res.Meta,
			Order:     res.Order,
		})
	}

	fronts := make(map[string]string, len(cards))
	for _, c := range cards {
		fronts[c.ID] = c.Front
	}
	fmt.Fprintf(out, "session %s  plan %s  (%s %s)\n", res.SessionID, res.PlanID, res.Meta.Algo, res.Meta.Version)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for i, id := range res.Order {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, id[:12], firstLine(fronts[id]))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
