package transcript

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFileOrdersTurnsByIndex(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "agent-objection.csv")
	content := "" +
		"Speaker,Text,Turn_index,Session_id\n" +
		"Client,I already have an agent.,1,s-1\n" +
		"Trainee,Hi! Thanks for reaching out.,0,s-1\n" +
		"Trainee,\"Totally fair, what do they charge?\",2,s-1\n"

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	doc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if got, want := doc.SessionID, "s-1"; got != want {
		t.Fatalf("session id mismatch: got %q want %q", got, want)
	}
	if got, want := len(doc.Turns), 3; got != want {
		t.Fatalf("turn count mismatch: got %d want %d", got, want)
	}
	if got, want := doc.Turns[0].Speaker, SpeakerUser; got != want {
		t.Fatalf("first speaker mismatch: got %q want %q", got, want)
	}
	if got, want := doc.Turns[1].Payload.Text, "I already have an agent."; got != want {
		t.Fatalf("second turn text mismatch: got %q want %q", got, want)
	}
	if got, want := doc.Turns[2].Payload.Text, "Totally fair, what do they charge?"; got != want {
		t.Fatalf("third turn text mismatch: got %q want %q", got, want)
	}
}

func TestWriteThenReadKeepsTurns(t *testing.T) {
	t.Parallel()

	turns := []Turn{
		{Index: 0, Speaker: SpeakerUser, Payload: Payload{Text: "Hello", Subject: "Quote"}},
		{Index: 1, Speaker: SpeakerPersona, Payload: Payload{Text: "Hi, what's your rate?"}},
	}

	var buf bytes.Buffer
	if err := Write(&buf, "s-9", turns); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	doc, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if got, want := doc.SessionID, "s-9"; got != want {
		t.Fatalf("session id mismatch: got %q want %q", got, want)
	}
	if got, want := doc.Turns[0].Payload.Subject, "Quote"; got != want {
		t.Fatalf("subject mismatch: got %q want %q", got, want)
	}
	if got, want := doc.Turns[1].Speaker, SpeakerPersona; got != want {
		t.Fatalf("speaker mismatch: got %q want %q", got, want)
	}
}

func TestReadRejectsUnknownSpeaker(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("Turn_index,Speaker,Text\n0,Narrator,hello\n"))
	if err == nil {
		t.Fatalf("expected error for unknown speaker")
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	turns := []Turn{
		{Speaker: SpeakerPersona, Payload: Payload{Text: "Who is this?"}},
		{Speaker: SpeakerUser, Payload: Payload{Text: "Media team here.", Subject: "Re: shoot"}},
	}
	got := Render(turns, "Trainee", "Client")
	want := "[Client]: Who is this?\n[Trainee]: Subject: Re: shoot\nMedia team here."
	if got != want {
		t.Fatalf("Render mismatch:\ngot  %q\nwant %q", got, want)
	}
	if got, want := CountBySpeaker(turns, SpeakerUser), 1; got != want {
		t.Fatalf("CountBySpeaker got %d want %d", got, want)
	}
}
