package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/bedtime/internal/planner"
	"github.com/kingrea/bedtime/internal/stateapi"
	"github.com/kingrea/bedtime/internal/wire"
)

const statusTimeout = 5 * time.Second

func statusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print tonight's plan as the store has it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			variant, err := stateapi.ParseVariant(cfg.Client.Variant)
			if err != nil {
				return err
			}
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, cancel := context.WithTimeout(parent, statusTimeout)
			defer cancel()

			api := stateapi.New(cfg.Client.APIBase, stateapi.WithVariant(variant))
			health, err := api.Health(ctx)
			if err != nil {
				return fmt.Errorf("store %s unreachable: %w", cfg.Client.APIBase, err)
			}
			doc, err := api.Load(ctx)
			if err != nil {
				return fmt.Errorf("load plan: %w", err)
			}
			writeStatus(cmd.OutOrStdout(), cfg.Client.APIBase, health, planner.Normalize(doc), time.Now())
			return nil
		},
	}
}

func writeStatus(w io.Writer, api string, health wire.Health, state planner.State, now time.Time) {
	open, done := 0, 0
	for _, t := range state.Tasks {
		if t.Done {
			done++
		} else {
			open++
		}
	}
	sums := planner.Summarize(state.Tasks)

	fmt.Fprintf(w, "store      %s (%s, %s, up %s, %d listening)\n",
		api, health.Status, health.Version, shortDuration(time.Duration(health.UptimeSeconds)*time.Second), health.Subscribers)
	if state.UpdatedAt > 0 {
		fmt.Fprintf(w, "saved      %s\n", time.UnixMilli(state.UpdatedAt).Local().Format("Mon 15:04:05"))
	}
	fmt.Fprintf(w, "tasks      %d open, %d done\n", open, done)
	if running, ok := state.Running(); ok {
		fmt.Fprintf(w, "running    %s (%s)\n", running.Title,
			shortDuration(time.Duration(planner.LiveElapsed(running, now.UnixMilli()))*time.Millisecond))
	}

	bedMinutes, ok := planner.BedtimeMinutes(state.Bedtime)
	if !ok {
		fmt.Fprintf(w, "bedtime    %q is outside 14:00-23:59\n", state.Bedtime)
		fmt.Fprintf(w, "work left  %s\n", shortDuration(time.Duration(sums.TotalWorkMin)*time.Minute))
		return
	}
	untilBed := planner.TimeUntilBed(bedMinutes, now)
	fmt.Fprintf(w, "bedtime    %s (%s)\n", state.Bedtime, relative(untilBed))
	fmt.Fprintf(w, "work left  %s, done by %s\n",
		shortDuration(time.Duration(sums.TotalWorkMin)*time.Minute),
		planner.CompletionAt(now, sums.TotalWorkMin).Format("15:04"))
	fmt.Fprintf(w, "buffer     %s\n", shortDuration(planner.Buffer(untilBed, sums.TotalWorkMin)))
	fmt.Fprintf(w, "progress   %d%%\n", planner.Progress(untilBed, sums.TotalWorkMin))
	if planner.HasDoneWithoutActual(state.Tasks) {
		fmt.Fprintln(w, "warning    a finished task has no actual time recorded")
	}
}

func relative(d time.Duration) string {
	if d < 0 {
		return shortDuration(-d) + " ago"
	}
	return "in " + shortDuration(d)
}

// shortDuration renders d to the minute, or to the second below one minute.
func shortDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%s%ds", sign, int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%s%dm", sign, int(d/time.Minute))
	default:
		mins := int(d / time.Minute)
		return fmt.Sprintf("%s%dh%02dm", sign, mins/60, mins%60)
	}
}
