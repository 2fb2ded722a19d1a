package transcript

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var csvHeader = []string{"Session_id", "Turn_index", "Speaker", "Text", "Subject"}

// Document is a transcript loaded from, or written to, a CSV file.
type Document struct {
	SessionID  string
	SourceFile string
	Turns      []Turn
}

// LoadFile parses one transcript CSV. Column order is free; rows are sorted
// by turn index and re-numbered from zero.
func LoadFile(path string) (Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()

	doc, err := Read(file)
	if err != nil {
		return Document{}, fmt.Errorf("parse %q: %w", path, err)
	}
	if doc.SessionID == "" {
		doc.SessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	doc.SourceFile = filepath.ToSlash(path)
	return doc, nil
}

// Read parses transcript CSV rows from r.
func Read(r io.Reader) (Document, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, errors.New("empty csv")
		}
		return Document{}, fmt.Errorf("read header: %w", err)
	}

	idx, err := headerIndexes(header)
	if err != nil {
		return Document{}, err
	}

	var sessionID string
	turns := make([]Turn, 0, 32)
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Document{}, fmt.Errorf("read row: %w", err)
		}

		indexRaw := strings.TrimSpace(valueAt(record, idx.turnIndex))
		if indexRaw == "" {
			continue
		}
		index, err := strconv.Atoi(indexRaw)
		if err != nil {
			return Document{}, fmt.Errorf("turn_index %q: %w", indexRaw, err)
		}

		speaker, err := parseSpeaker(valueAt(record, idx.speaker))
		if err != nil {
			return Document{}, fmt.Errorf("turn %d: %w", index, err)
		}
		text := strings.TrimSpace(valueAt(record, idx.text))
		if text == "" {
			continue
		}

		if sessionID == "" {
			sessionID = strings.TrimSpace(valueAt(record, idx.session))
		}

		turns = append(turns, Turn{
			Index:   index,
			Speaker: speaker,
			Payload: Payload{
				Text:    text,
				Subject: strings.TrimSpace(valueAt(record, idx.subject)),
			},
		})
	}

	if len(turns) == 0 {
		return Document{}, errors.New("no turns")
	}

	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Index < turns[j].Index
	})
	for i := range turns {
		turns[i].Index = i
	}

	return Document{SessionID: sessionID, Turns: turns}, nil
}

// Write emits turns as CSV with a header row.
func Write(w io.Writer, sessionID string, turns []Turn) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, turn := range turns {
		record := []string{
			sessionID,
			strconv.Itoa(turn.Index),
			string(turn.Speaker),
			turn.Payload.Text,
			turn.Payload.Subject,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write turn %d: %w", turn.Index, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func parseSpeaker(raw string) (Speaker, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "trainee", "sales rep", "rep":
		return SpeakerUser, nil
	case "persona", "client", "customer":
		return SpeakerPersona, nil
	}
	return "", fmt.Errorf("unknown speaker %q", raw)
}

func valueAt(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return record[index]
}

type columnIndexes struct {
	session   int
	turnIndex int
	speaker   int
	text      int
	subject   int
}

func headerIndexes(header []string) (columnIndexes, error) {
	idx := columnIndexes{session: -1, turnIndex: -1, speaker: -1, text: -1, subject: -1}

	for i, col := range header {
		switch normalizeHeader(col) {
		case "session_id", "sessionid", "conversation":
			idx.session = i
		case "turn_index", "turnindex", "chunk_id", "chunkid":
			idx.turnIndex = i
		case "speaker":
			idx.speaker = i
		case "text":
			idx.text = i
		case "subject":
			idx.subject = i
		}
	}

	if idx.turnIndex == -1 || idx.speaker == -1 || idx.text == -1 {
		return columnIndexes{}, fmt.Errorf("missing required columns in header %v", header)
	}
	return idx, nil
}

func normalizeHeader(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, " ", "")
}
