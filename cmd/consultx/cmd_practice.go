package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/consult"
	"github.com/tetraminz/consultation_x/internal/mode"
	"github.com/tetraminz/consultation_x/internal/report"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/session"
)

const (
	practiceEndCommand  = "/end"
	practiceQuitCommand = "/quit"
)

func (c *cli) practiceCmd() *cobra.Command {
	var flags scenarioFlags
	var owner string
	var noScore bool
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Run an interactive practice session in the terminal",
		Long: `Starts a session and reads replies from stdin.

Type /end to finish and get graded, /quit to abandon the session.
On email scenarios a reply runs until an empty line; start it with
"Subject: ..." to set a subject.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return c.runPractice(cmd.Context(), a.service, cmd.InOrStdin(), cmd.OutOrStdout(), consult.StartRequest{
				Owner:           owner,
				ScenarioRequest: flags.request(),
			}, !noScore)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&owner, "owner", "local", "trainee id that owns the session")
	cmd.Flags().BoolVar(&noScore, "no-score", false, "skip grading when the session ends")
	return cmd
}

func (c *cli) runPractice(ctx context.Context, svc *consult.Service, in io.Reader, out io.Writer, req consult.StartRequest, score bool) error {
	sess, err := svc.StartSession(ctx, req)
	if err != nil {
		return err
	}
	adapter, err := mode.For(sess.Scenario.Channel)
	if err != nil {
		return err
	}
	printScenario(out, sess.Scenario)
	fmt.Fprintf(out, "\n--- session %s (type %s to finish, %s to abandon) ---\n\n", sess.ID, practiceEndCommand, practiceQuitCommand)
	printed := printTurns(out, sess, adapter, 0)

	reader := bufio.NewScanner(in)
	for !sess.Status.Terminal() {
		fmt.Fprint(out, "> ")
		line, ok := readReply(reader, sess.Scenario.Channel)
		if !ok {
			line = practiceQuitCommand
		}
		switch strings.TrimSpace(line) {
		case "":
			continue
		case practiceQuitCommand:
			if _, err := svc.AbandonSession(ctx, sess.ID); err != nil && !errors.Is(err, session.ErrSessionClosed) {
				return err
			}
			fmt.Fprintln(out, "session abandoned")
			return nil
		case practiceEndCommand:
			sess, err = svc.EndSession(ctx, sess.ID)
			if err != nil {
				if errors.Is(err, session.ErrNotStarted) {
					fmt.Fprintln(out, "say something first, or use /quit")
					continue
				}
				return err
			}
			continue
		}

		input := consult.UserInput{Text: line}
		if sess.Scenario.Channel == scenario.ChannelEmail {
			input.Subject, input.Text = mode.SplitSubject(line)
		}
		next, err := svc.Respond(ctx, sess.ID, input)
		if err != nil {
			if errors.Is(err, mode.ErrInvalidPayload) || errors.Is(err, session.ErrEmptyTurn) {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			return err
		}
		sess = next
		printed = printTurns(out, sess, adapter, printed)
	}

	switch sess.EndReason {
	case session.EndPersonaClosed:
		fmt.Fprintf(out, "\n%s\n", adapter.ClosingNote())
	case session.EndTurnLimit:
		fmt.Fprintf(out, "\nTurn limit reached (%d replies).\n", sess.UserTurns())
	}
	if !score || sess.Status != session.StatusCompleted {
		return nil
	}

	fmt.Fprintln(out, "\ngrading...")
	graded, err := svc.ScoreSession(ctx, sess.ID)
	if err != nil {
		c.logger.Warn("grading failed", zap.String("session_id", sess.ID), zap.Error(err))
		return fmt.Errorf("score session %s: %w", sess.ID, err)
	}
	fmt.Fprintln(out, report.RenderScore(graded))
	return nil
}

// readReply reads one trainee reply. Email replies span lines until a blank
// line.
func readReply(reader *bufio.Scanner, channel scenario.Channel) (string, bool) {
	if channel != scenario.ChannelEmail {
		if !reader.Scan() {
			return "", false
		}
		return reader.Text(), true
	}
	var lines []string
	for reader.Scan() {
		line := reader.Text()
		if strings.TrimSpace(line) == "" {
			if len(lines) == 0 {
				continue
			}
			break
		}
		lines = append(lines, line)
		if len(lines) == 1 && strings.HasPrefix(strings.TrimSpace(line), "/") {
			break
		}
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

func printTurns(out io.Writer, sess session.Session, adapter mode.Adapter, from int) int {
	for _, turn := range sess.Turns[from:] {
		view := adapter.Render(turn, sess.Scenario)
		if view.Subject != "" {
			fmt.Fprintf(out, "%s [%s]:\n%s\n\n", view.Label, view.Subject, view.Body)
			continue
		}
		suffix := ""
		if view.AudioRef != "" {
			suffix = fmt.Sprintf("  (audio: %s)", view.AudioRef)
		}
		fmt.Fprintf(out, "%s: %s%s\n", view.Label, view.Body, suffix)
	}
	return len(sess.Turns)
}
