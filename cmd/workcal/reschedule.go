package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"workcal/internal/config"
	"workcal/internal/ics"
	appLog "workcal/internal/log"
	"workcal/internal/schedule"
	"workcal/internal/textfmt"
)

type rescheduleOptions struct {
	asICS    bool
	tieBreak string
	priority string
}

func newRescheduleCmd(root *rootOptions) *cobra.Command {
	opts := &rescheduleOptions{}

	cmd := &cobra.Command{
		Use:   "reschedule [file]",
		Short: "Reschedule events read from a file or stdin",
		Long: `Reads one event per line in the form

  2022/08/23 15:00 -> 2022/08/23 16:00 - Meet Jamie for coffee

and prints a conflict-free schedule inside business hours (09:00-18:00,
Monday to Friday). With no file, or "-", events are read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReschedule(cmd, root, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.asICS, "ics", false, "write the schedule as an iCalendar file")
	cmd.Flags().StringVar(&opts.tieBreak, "tie-break", "", "free-day-first or nearest-first (overrides tie_break)")
	cmd.Flags().StringVar(&opts.priority, "priority", "", "arrival or earliest-start (overrides priority)")
	return cmd
}

func runReschedule(cmd *cobra.Command, root *rootOptions, opts *rescheduleOptions, args []string) error {
	cfg, err := config.LoadOptional(root.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := root.applyLogLevel(cfg); err != nil {
		return err
	}
	if opts.tieBreak != "" {
		cfg.TieBreak = opts.tieBreak
	}
	if opts.priority != "" {
		cfg.Priority = opts.priority
	}
	sc, err := cfg.ScheduleConfig()
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	events, err := textfmt.Parse(in, cfg.Location())
	if err != nil {
		var perr *textfmt.ParseError
		if errors.As(err, &perr) {
			printLineErrors(cmd.ErrOrStderr(), perr)
			return fmt.Errorf("%d malformed lines", len(perr.Lines))
		}
		return err
	}

	// The ICS body goes to stdout alone; the count line moves to stderr.
	status := cmd.OutOrStdout()
	if opts.asICS {
		status = cmd.ErrOrStderr()
	}
	fmt.Fprintf(status, "You gave us %d events.\n", len(events))

	res, err := schedule.Reschedule(events, sc)
	if err != nil {
		return err
	}
	appLog.Debug("rescheduled", "events", len(events), "kept", res.Kept, "relocated", len(res.Relocations))

	return writeSchedule(cmd.OutOrStdout(), res, opts.asICS)
}

// printLineErrors lists every malformed line as `"<line>" - <reason> (line N)`.
func printLineErrors(w io.Writer, perr *textfmt.ParseError) {
	fmt.Fprintln(w, "There are errors with these lines of input:")
	for _, le := range perr.Lines {
		fmt.Fprintf(w, "%q - %v (line %d)\n", le.Text, le.Err, le.Line)
	}
}

func writeSchedule(w io.Writer, res schedule.Result, asICS bool) error {
	if asICS {
		return ics.Encode(w, res.Events, time.Now())
	}
	if _, err := fmt.Fprintf(w, "Here are the %d events that we've been able to schedule:\n", len(res.Events)); err != nil {
		return err
	}
	return textfmt.Format(w, res.Events)
}
