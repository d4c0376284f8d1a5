package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/calagent/internal/ics"
	"github.com/teemow/calagent/internal/schedule"
)

// scheduler is the part of schedule.Service the CLI drives.
type scheduler interface {
	Schedule(ctx context.Context, req schedule.Request) (*schedule.Response, error)
}

type scheduleOptions struct {
	text     string
	file     string
	timeZone string
	dryRun   bool
	icsPath  string
}

func newScheduleCmd() *cobra.Command {
	var opts scheduleOptions

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Add the events described by a request to your calendar",
		Long: `Extract events from a plain-language request, optionally with a file,
and add them to your primary Google Calendar.

Without --text or --file, and when stdin is a terminal, the command asks for
a file and an instruction interactively.

Examples:
  calagent schedule --text "client call tomorrow 11am for 45 minutes"
  calagent schedule --file flyer.png
  calagent schedule --file timetable.pdf --text "only the events after 2pm" --dry-run --ics out.ics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			logger := slog.Default()
			svc, err := newScheduler(ctx, cfg, deps{logger: logger})
			if err != nil {
				return err
			}

			interactive := !cmd.Flags().Changed("text") && opts.file == "" && isTerminal(os.Stdin)
			return runSchedule(ctx, svc, opts, cmd.InOrStdin(), cmd.OutOrStdout(), interactive)
		},
	}

	cmd.Flags().StringVar(&opts.text, "text", "", "The request, e.g. \"dentist friday 3pm for an hour\"")
	cmd.Flags().StringVar(&opts.file, "file", "", "Path to a document, image or audio file to analyze")
	cmd.Flags().StringVar(&opts.timeZone, "timezone", "", "IANA time zone of the request (default from config)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show the extracted events without creating them")
	cmd.Flags().StringVar(&opts.icsPath, "ics", "", "Also write the extracted events to this iCalendar file (- for stdout)")

	return cmd
}

// runSchedule gathers the request, runs it and prints a per-event report.
func runSchedule(ctx context.Context, svc scheduler, opts scheduleOptions, in io.Reader, out io.Writer, interactive bool) error {
	text, file := opts.text, opts.file

	if interactive {
		var ok bool
		text, file, ok = promptRequest(bufio.NewReader(in), out)
		if !ok {
			fmt.Fprintln(out, "Cancelled: no input provided.")
			return nil
		}
	}

	req := schedule.Request{
		Text:     text,
		TimeZone: opts.timeZone,
		DryRun:   opts.dryRun,
		Source:   "cli",
	}
	if file != "" {
		req.Attachment = &schedule.Attachment{Path: file}
	}

	fmt.Fprintln(out, "Analyzing your request...")
	resp, err := svc.Schedule(ctx, req)
	if err != nil {
		if errors.Is(err, schedule.ErrNoEvents) {
			return fmt.Errorf("no valid event could be extracted from the request: %w", err)
		}
		return err
	}

	failed := printReport(out, resp)

	if opts.icsPath != "" {
		if err := writeICS(opts.icsPath, out, resp); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d events were not created", failed, resp.Count)
	}
	return nil
}

// promptRequest asks for an optional file and the instruction. It returns
// false when there is nothing to schedule.
func promptRequest(r *bufio.Reader, out io.Writer) (text, file string, ok bool) {
	fmt.Fprintln(out, "Calendar agent: ready for your request.")

	fmt.Fprint(out, "Analyze a file (document, image, audio)? (y/n): ")
	if answer := readLine(r); strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes") {
		fmt.Fprint(out, "Path to the file: ")
		file = readLine(r)
		if _, err := os.Stat(file); file == "" || err != nil {
			fmt.Fprintf(out, "File not found: %s. Continuing with text only.\n", file)
			file = ""
		}
	}

	if file != "" {
		fmt.Fprint(out, "Instruction for the file (optional, e.g. \"only events after 2pm\"):\n> ")
		return readLine(r), file, true
	}

	fmt.Fprint(out, "Your request (e.g. \"client meeting tuesday 10am for 90 minutes\"):\n> ")
	text = readLine(r)
	return text, "", text != ""
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

// printReport writes one block per event and returns the number of failures.
func printReport(out io.Writer, resp *schedule.Response) int {
	fmt.Fprintf(out, "Found %d event(s).\n", resp.Count)

	failed := 0
	for i, ev := range resp.Events {
		fmt.Fprintf(out, "\n--- Event %d/%d ---\n", i+1, resp.Count)
		fmt.Fprintf(out, "  Summary: %s\n", ev.Summary)
		fmt.Fprintf(out, "  Start:   %s\n", ev.StartDateTime)
		fmt.Fprintf(out, "  End:     %s\n", ev.EndDateTime)
		switch {
		case ev.Error != nil:
			failed++
			fmt.Fprintf(out, "  Failed:  %s\n", ev.Error.Message)
		case resp.DryRun:
			fmt.Fprintln(out, "  Not created (dry run)")
		default:
			fmt.Fprintf(out, "  Created: %s\n", ev.Link)
		}
	}
	return failed
}

func writeICS(path string, stdout io.Writer, resp *schedule.Response) error {
	if path == "-" {
		_, err := ics.Encode(stdout, resp.Records, resp.TimeZone, time.Now())
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	n, err := ics.Encode(f, resp.Records, resp.TimeZone, time.Now())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "\nWrote %d event(s) to %s\n", n, path)
	return nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
