package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var ErrAudioNotFound = errors.New("audio not found")

// AudioStore persists synthesized audio and hands back an opaque reference.
type AudioStore interface {
	Save(ctx context.Context, key string, audio Audio) (string, error)
	Load(ctx context.Context, ref string) (Audio, error)
}

// FileStore keeps audio files under one directory.
type FileStore struct {
	dir string
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("audio directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(ctx context.Context, key string, audio Audio) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(audio.Data) == 0 {
		return "", ErrEmptyAudio
	}
	name := unsafeKeyChars.ReplaceAllString(key, "_")
	if name == "" {
		return "", errors.New("audio key is required")
	}
	ref := name + extensionFor(audio.MIMEType)
	if err := os.WriteFile(filepath.Join(s.dir, ref), audio.Data, 0o644); err != nil {
		return "", fmt.Errorf("write audio %s: %w", ref, err)
	}
	return ref, nil
}

func (s *FileStore) Load(ctx context.Context, ref string) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	if ref == "" || ref != filepath.Base(ref) {
		return Audio{}, fmt.Errorf("invalid audio ref %q", ref)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if errors.Is(err, os.ErrNotExist) {
		return Audio{}, fmt.Errorf("%s: %w", ref, ErrAudioNotFound)
	}
	if err != nil {
		return Audio{}, fmt.Errorf("read audio %s: %w", ref, err)
	}
	return Audio{Data: data, MIMEType: mimeFor(ref)}, nil
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	}
	return ".bin"
}

func mimeFor(ref string) string {
	switch filepath.Ext(ref) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	}
	return "application/octet-stream"
}
