package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tetraminz/consultation_x/internal/config"
	"github.com/tetraminz/consultation_x/internal/consult"
	"github.com/tetraminz/consultation_x/internal/persona"
	"github.com/tetraminz/consultation_x/internal/rubric"
	"github.com/tetraminz/consultation_x/internal/scenario"
	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/store/memstore"
	"github.com/tetraminz/consultation_x/internal/transcript"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{
		config.EnvConfigFile, config.EnvDBDriver,
		"GROQ_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(key, "")
	}
	t.Setenv(config.EnvDBDSN, filepath.Join(dir, "consultx.db"))
	return dir
}

func nopLogger() *zap.Logger { return zap.NewNop() }

func newScanner(input string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(input))
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()), "consultx %s: %s", strings.Join(args, " "), out.String())
	return out.String()
}

func TestScenarioCommandIsReproducible(t *testing.T) {
	isolate(t)

	first := run(t, "scenario", "--track", "sales", "--channel", "email", "--difficulty", "hard", "--seed", "42", "--json")
	var sc scenario.Scenario
	require.NoError(t, json.Unmarshal([]byte(first), &sc))
	assert.Equal(t, scenario.TrackSales, sc.Track)
	assert.Equal(t, scenario.ChannelEmail, sc.Channel)
	assert.Equal(t, scenario.DifficultyHard, sc.Difficulty)

	var again scenario.Scenario
	require.NoError(t, json.Unmarshal([]byte(run(t, "scenario", "--track", "sales", "--channel", "email", "--difficulty", "hard", "--seed", "42", "--json")), &again))
	assert.Equal(t, sc.Persona, again.Persona)
	assert.Equal(t, sc.TemplateID, again.TemplateID)

	text := run(t, "scenario", "--seed", "42")
	assert.Contains(t, text, "track=sales channel=text_chat")
}

func TestScenarioCommandRejectsUnknownTrack(t *testing.T) {
	isolate(t)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"scenario", "--track", "marketing"})
	err := root.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, scenario.ErrInvalidTrack)
}

func TestImportExportAndReport(t *testing.T) {
	dir := isolate(t)

	csvPath := filepath.Join(dir, "call.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(strings.Join([]string{
		"Session_id,Turn_index,Speaker,Text,Subject",
		"rec-1,0,user,Hi! Thanks for taking the time today.,",
		`rec-1,1,persona,"Sure, what does a shoot cost?",`,
		"rec-1,2,user,It depends on square footage. Can I ask about the listing?,",
	}, "\n")+"\n"), 0o600))

	out := run(t, "import", csvPath, "--owner", "ana", "--seed", "9")
	match := regexp.MustCompile(`imported session=(\S+) turns=3`).FindStringSubmatch(out)
	require.Len(t, match, 2, out)
	id := match[1]

	listing := run(t, "sessions", "--owner", "ana")
	assert.Contains(t, listing, id)
	assert.Contains(t, listing, "completed/user_ended")

	exported := run(t, "export", id)
	doc, err := transcript.Read(strings.NewReader(exported))
	require.NoError(t, err)
	assert.Equal(t, id, doc.SessionID)
	require.Len(t, doc.Turns, 3)
	assert.Equal(t, "Sure, what does a shoot cost?", doc.Turns[1].Payload.Text)

	plain := run(t, "report", "--owner", "ana", "--format", "plain")
	assert.Contains(t, plain, "total_sessions=1")

	card := run(t, "report", "--owner", "ana")
	assert.Contains(t, card, "No graded sessions yet.")
}

type scriptedPersona struct {
	replies []persona.Reply
	calls   int
}

func (p *scriptedPersona) NextTurn(context.Context, scenario.Scenario, []transcript.Turn) (persona.Reply, error) {
	reply := p.replies[p.calls%len(p.replies)]
	p.calls++
	return reply, nil
}

func (p *scriptedPersona) OpeningLine(_ context.Context, sc scenario.Scenario) persona.Reply {
	return persona.Reply{Payload: transcript.Payload{Text: persona.CannedOpening(sc)}, Canned: true}
}

type fixedScorer struct{}

func (fixedScorer) Score(_ context.Context, s session.Session) (rubric.ScoreReport, error) {
	categories := make([]rubric.CategoryScore, 0, len(rubric.Categories))
	for _, cat := range rubric.Categories {
		categories = append(categories, rubric.CategoryScore{Category: cat, Score: 82})
	}
	return rubric.ScoreReport{
		ID:          "report-" + s.ID,
		SessionID:   s.ID,
		Aggregate:   82,
		Tier:        rubric.TierAMinus,
		TierLabel:   rubric.TierAMinus.Label(),
		Categories:  categories,
		DealOutcome: rubric.DealFollowUp,
		Summary:     "Solid discovery.",
		Model:       "fixed",
	}, nil
}

func newPracticeService(t *testing.T, p consult.PersonaSimulator) *consult.Service {
	t.Helper()
	store := memstore.New()
	t.Cleanup(func() { _ = store.Close() })
	svc, err := consult.New(consult.Deps{Store: store, Persona: p, Scorer: fixedScorer{}}, consult.Config{})
	require.NoError(t, err)
	return svc
}

func TestPracticeEndsAndGrades(t *testing.T) {
	t.Parallel()

	p := &scriptedPersona{replies: []persona.Reply{{Payload: transcript.Payload{Text: "What would the photos cost me?"}}}}
	svc := newPracticeService(t, p)
	c := &cli{logger: nopLogger()}

	var out bytes.Buffer
	in := strings.NewReader("/end\nHello, I saw your listing on Maple.\n/end\n")
	err := c.runPractice(context.Background(), svc, in, &out, consult.StartRequest{
		Owner:           "trainee",
		ScenarioRequest: consult.ScenarioRequest{Track: "sales", Channel: "text_chat", Seed: 3},
	}, true)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "say something first")
	assert.Contains(t, text, "What would the photos cost me?")
	assert.Contains(t, text, "82/100")
	assert.Equal(t, 1, p.calls)
}

func TestPracticeStopsWhenPersonaCloses(t *testing.T) {
	t.Parallel()

	p := &scriptedPersona{replies: []persona.Reply{{Payload: transcript.Payload{Text: "Not interested, bye."}, Closing: true}}}
	svc := newPracticeService(t, p)
	c := &cli{logger: nopLogger()}

	var out bytes.Buffer
	err := c.runPractice(context.Background(), svc, strings.NewReader("Hi there!\n"), &out, consult.StartRequest{
		Owner:           "trainee",
		ScenarioRequest: consult.ScenarioRequest{Track: "sales", Channel: "text_chat", Seed: 4},
	}, false)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "The client stopped replying.")
	assert.NotContains(t, out.String(), "grading")
}

func TestPracticeEOFAbandons(t *testing.T) {
	t.Parallel()

	svc := newPracticeService(t, &scriptedPersona{replies: []persona.Reply{{Payload: transcript.Payload{Text: "ok"}}}})
	c := &cli{logger: nopLogger()}

	var out bytes.Buffer
	err := c.runPractice(context.Background(), svc, strings.NewReader(""), &out, consult.StartRequest{
		Owner:           "trainee",
		ScenarioRequest: consult.ScenarioRequest{Track: "project_management", Channel: "email", Seed: 5},
	}, true)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "session abandoned")

	sessions, err := svc.ListSessions(context.Background(), "trainee")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.StatusAbandoned, sessions[0].Status)
	assert.Equal(t, session.EndUserAbandoned, sessions[0].EndReason)
}

func TestReadReplyEmailSpansLines(t *testing.T) {
	t.Parallel()

	reader := newScanner("\nSubject: Pricing\nHi Dana,\nHere are the packages.\n\n/end\n")
	got, ok := readReply(reader, scenario.ChannelEmail)
	require.True(t, ok)
	assert.Equal(t, "Subject: Pricing\nHi Dana,\nHere are the packages.", got)

	got, ok = readReply(reader, scenario.ChannelEmail)
	require.True(t, ok)
	assert.Equal(t, "/end", got)

	_, ok = readReply(reader, scenario.ChannelEmail)
	assert.False(t, ok)
}
