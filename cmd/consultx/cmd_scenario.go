package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetraminz/consultation_x/internal/consult"
	"github.com/tetraminz/consultation_x/internal/scenario"
)

// scenarioFlags are shared by every command that starts from a scenario.
type scenarioFlags struct {
	track      string
	channel    string
	difficulty string
	seed       uint64
}

func (f *scenarioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.track, "track", "sales", "training track: sales or project_management")
	cmd.Flags().StringVar(&f.channel, "channel", "text_chat", "channel: text_chat, email or phone_call")
	cmd.Flags().StringVar(&f.difficulty, "difficulty", "", "easy, medium or hard (default random)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "seed for reproducible scenarios (0 is random)")
}

func (f scenarioFlags) request() consult.ScenarioRequest {
	return consult.ScenarioRequest{Track: f.track, Channel: f.channel, Difficulty: f.difficulty, Seed: f.seed}
}

func (c *cli) scenarioCmd() *cobra.Command {
	var flags scenarioFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Generate a scenario without starting a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := flags.request().Generate(time.Now)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sc)
			}
			printScenario(cmd.OutOrStdout(), sc)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the scenario as JSON")
	return cmd
}

func printScenario(w io.Writer, sc scenario.Scenario) {
	p := sc.Persona
	fmt.Fprintf(w, "%s\n", sc.Title)
	fmt.Fprintf(w, "track=%s channel=%s difficulty=%s category=%s\n", sc.Track, sc.Channel, sc.Difficulty, sc.Category)
	fmt.Fprintf(w, "client: %s (%s, %s)\n", p.DisplayName, p.Brokerage, p.City)
	fmt.Fprintf(w, "property: %s, %s, %s\n", p.PropertyType, p.SquareFootage, p.ListingPrice)
	fmt.Fprintf(w, "personality: %s\n", p.Personality)
	fmt.Fprintf(w, "\n%s\n", sc.Brief)
	if len(sc.SuccessCriteria) > 0 {
		fmt.Fprintf(w, "\nsuccess criteria:\n")
		for _, item := range sc.SuccessCriteria {
			fmt.Fprintf(w, "  - %s\n", item)
		}
	}
	fmt.Fprintf(w, "\nmax user turns: %d, time limit: %s\n", sc.MaxUserTurns, strings.TrimSpace(sc.TimeLimit.String()))
}
