// Package voice manages voice profiles on disk.
//
// A profile is a directory under the store root holding a reference
// recording and the transcript of what is said in it:
//
//	<root>/<name>/reference.wav
//	<root>/<name>/reference.txt
//
// Profiles are created by the clone command and read on every synthesis
// request. They are never edited in place: a new clone under an existing name
// replaces the recording wholesale and keeps the transcript.
package voice

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// AudioFile is the file name of a profile's reference recording.
	AudioFile = "reference.wav"

	// TranscriptFile is the file name of a profile's reference transcript.
	TranscriptFile = "reference.txt"

	// PlaceholderTranscript seeds reference.txt for new profiles. It has to be
	// replaced by hand with the words spoken in the recording.
	PlaceholderTranscript = "Replace this text with the exact words spoken in reference.wav."

	maxNameLen = 64
)

var (
	// ErrNotFound is returned when a profile directory or one of its two
	// files is missing.
	ErrNotFound = errors.New("voice: profile not found")

	// ErrInvalidName is returned for names that cannot be used as a single
	// directory name.
	ErrInvalidName = errors.New("voice: invalid profile name")
)

// Profile is a voice profile as found on disk.
type Profile struct {
	Name           string
	Dir            string
	AudioPath      string
	TranscriptPath string

	// Transcript is only populated by [Store.Read].
	Transcript string

	// Default reports whether this is the configured default profile.
	Default bool
}

// Store reads and writes voice profiles below a root directory.
//
// Store is safe for concurrent use.
type Store struct {
	root string

	mu          sync.RWMutex
	defaultName string

	// writeMu serialises Create so two clones of the same name cannot
	// interleave their renames.
	writeMu sync.Mutex
}

// NewStore returns a Store rooted at root, creating the directory if needed.
func NewStore(root, defaultName string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("voice: create root %q: %w", root, err)
	}
	return &Store{root: root, defaultName: defaultName}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Default returns the name of the default profile.
func (s *Store) Default() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultName
}

// SetDefault changes the default profile. The profile does not need to exist
// yet.
func (s *Store) SetDefault(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultName = name
}

// ValidateName reports whether name can be used as a profile name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidName, maxNameLen)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidName)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: name must not start with a dot", ErrInvalidName)
	case strings.ContainsAny(name, `/\:`+"\x00"):
		return fmt.Errorf("%w: name must not contain path separators", ErrInvalidName)
	}
	return nil
}

// Create writes audio as the reference recording of the profile name,
// replacing any existing recording. The transcript is seeded with
// [PlaceholderTranscript] only if it does not exist yet; an existing
// transcript is never touched. needsTranscript reports whether the transcript
// still holds the placeholder.
func (s *Store) Create(name string, audio []byte) (p Profile, needsTranscript bool, err error) {
	if err := ValidateName(name); err != nil {
		return Profile{}, false, err
	}
	if len(audio) == 0 {
		return Profile{}, false, errors.New("voice: reference audio is empty")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p = s.profile(name)
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return Profile{}, false, fmt.Errorf("voice: create profile dir: %w", err)
	}
	if err := writeFileAtomic(p.AudioPath, audio); err != nil {
		return Profile{}, false, fmt.Errorf("voice: write reference audio: %w", err)
	}

	f, err := os.OpenFile(p.TranscriptPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case err == nil:
		_, werr := f.WriteString(PlaceholderTranscript + "\n")
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return Profile{}, false, fmt.Errorf("voice: seed transcript: %w", werr)
		}
		p.Transcript = PlaceholderTranscript
		return p, true, nil
	case errors.Is(err, fs.ErrExist):
		text, err := readTranscript(p.TranscriptPath)
		if err != nil {
			return Profile{}, false, err
		}
		p.Transcript = text
		return p, text == PlaceholderTranscript || text == "", nil
	default:
		return Profile{}, false, fmt.Errorf("voice: seed transcript: %w", err)
	}
}

// List returns every profile whose directory holds both the recording and
// the transcript, sorted by name. Other files and directories are ignored.
func (s *Store) List() ([]Profile, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("voice: list %q: %w", s.root, err)
	}

	var out []Profile
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		p := s.profile(e.Name())
		if !isFile(p.AudioPath) || !isFile(p.TranscriptPath) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Profile) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Read returns the profile name with its transcript loaded and trimmed. It
// fails with [ErrNotFound] if either file is missing.
func (s *Store) Read(name string) (Profile, error) {
	if err := ValidateName(name); err != nil {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	p := s.profile(name)
	if !isFile(p.AudioPath) {
		return Profile{}, fmt.Errorf("%w: %q has no %s", ErrNotFound, name, AudioFile)
	}
	if !isFile(p.TranscriptPath) {
		return Profile{}, fmt.Errorf("%w: %q has no %s", ErrNotFound, name, TranscriptFile)
	}
	text, err := readTranscript(p.TranscriptPath)
	if err != nil {
		return Profile{}, err
	}
	p.Transcript = text
	return p, nil
}

func (s *Store) profile(name string) Profile {
	dir := filepath.Join(s.root, name)
	return Profile{
		Name:           name,
		Dir:            dir,
		AudioPath:      filepath.Join(dir, AudioFile),
		TranscriptPath: filepath.Join(dir, TranscriptFile),
		Default:        name == s.Default(),
	}
}

func readTranscript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("voice: read transcript: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// writeFileAtomic writes data to a temp file next to path and renames it into
// place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
