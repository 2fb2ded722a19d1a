package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tetraminz/consultation_x/internal/report"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

func (c *cli) sessionsCmd() *cobra.Command {
	var owner string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List an owner's sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListByOwner(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "local", "trainee id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full sessions as JSON")
	return cmd
}

func printSessions(w io.Writer, sessions []session.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no sessions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCHANNEL\tREPLIES\tGRADE\tCREATED")
	for _, sess := range sessions {
		grade := "-"
		if r, ok := sess.LatestReport(); ok {
			grade = fmt.Sprintf("%s (%d)", r.Tier, r.Aggregate)
		}
		status := string(sess.Status)
		if sess.EndReason != "" {
			status += "/" + string(sess.EndReason)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			sess.ID, status, sess.Scenario.Channel, sess.UserTurns(), grade, sess.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func (c *cli) scoreCmd() *cobra.Command {
	var latest bool
	cmd := &cobra.Command{
		Use:   "score [session-id]",
		Short: "Grade a completed session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if latest {
				st, err := c.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				sess, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				r, ok := sess.LatestReport()
				if !ok {
					return fmt.Errorf("session %s has not been graded", sess.ID)
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.RenderScore(r))
				return nil
			}

			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			r, err := a.service.ScoreSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderScore(r))
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "show the latest stored grade instead of grading again")
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	var owner, format string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize an owner's graded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListByOwner(cmd.Context(), owner)
			if err != nil {
				return err
			}
			summary := report.Build(sessions)
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "", "card":
				fmt.Fprintln(cmd.OutOrStdout(), report.RenderSummary(summary))
			case "markdown", "md":
				fmt.Fprint(cmd.OutOrStdout(), report.Markdown(summary))
			case "plain":
				fmt.Fprint(cmd.OutOrStdout(), report.Format(summary))
			default:
				return fmt.Errorf("unknown format %q (want card, markdown or plain)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "local", "trainee id")
	cmd.Flags().StringVar(&format, "format", "card", "card, markdown or plain")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export [session-id]",
		Short: "Write a session transcript as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %q: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}
			return transcript.Write(w, sess.ID, sess.Turns)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var flags scenarioFlags
	var owner string
	cmd := &cobra.Command{
		Use:   "import [transcript.csv]",
		Short: "Import a recorded transcript as a completed session",
		Long: `Reads a CSV transcript (Session_id, Turn_index, Speaker, Text, Subject)
and stores it as a completed session on a freshly generated scenario so it
can be graded with "consultx score".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := transcript.LoadFile(args[0])
			if err != nil {
				return err
			}
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.service.ImportTranscript(cmd.Context(), owner, flags.request(), doc.Turns)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported session=%s turns=%d source=%s\n", sess.ID, len(sess.Turns), doc.SourceFile)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&owner, "owner", "local", "trainee id that owns the session")
	return cmd
}
