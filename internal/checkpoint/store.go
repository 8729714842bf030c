// Package checkpoint persists the cursor of a run so it can be resumed.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/setanarut/traitmerge"
)

// FileName is the default checkpoint file inside the output directory.
// The leading dot keeps it out of category scans.
const FileName = ".traitmerge-state.json"

// ErrMismatch is returned when a checkpoint does not belong to the current
// scan, so its cursor would point at different combinations.
var ErrMismatch = errors.New("checkpoint does not match current scan")

type State struct {
	RunID       string    `json:"run_id"`
	Root        string    `json:"root"`
	OutputDir   string    `json:"output_dir"`
	Cursor      int       `json:"cursor"`
	Total       int       `json:"total"`
	Fingerprint string    `json:"fingerprint"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s State) Validate() error {
	if strings.TrimSpace(s.RunID) == "" {
		return errors.New("run_id is required")
	}
	if s.Cursor < 0 || s.Cursor > s.Total {
		return fmt.Errorf("cursor %d outside [0, %d]", s.Cursor, s.Total)
	}
	return nil
}

// Done reports whether every combination was processed.
func (s State) Done() bool {
	return s.Cursor >= s.Total
}

// NewState starts a run at cursor 0.
func NewState(root, outputDir string, seq *traitmerge.Generator) State {
	return State{
		RunID:       uuid.NewString(),
		Root:        root,
		OutputDir:   outputDir,
		Total:       seq.Len(),
		Fingerprint: Fingerprint(seq.Categories()),
	}
}

// Matches checks that s was produced by a run over the same combinations.
func (s State) Matches(seq *traitmerge.Generator) error {
	if s.Total != seq.Len() {
		return fmt.Errorf("%w: total %d, scan has %d", ErrMismatch, s.Total, seq.Len())
	}
	if fp := Fingerprint(seq.Categories()); s.Fingerprint != fp {
		return fmt.Errorf("%w: fingerprint changed", ErrMismatch)
	}
	return nil
}

// Fingerprint hashes the ordered category and file listing.
func Fingerprint(cats []traitmerge.TraitCategory) string {
	h := sha256.New()
	for _, c := range cats {
		io.WriteString(h, "c:"+c.Name+"\n")
		for _, f := range c.Files {
			io.WriteString(h, "f:"+filepath.Base(f.Path)+":"+strconv.Itoa(f.SortKey)+"\n")
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store reads and writes one checkpoint file. Writes are atomic.
type Store struct {
	path string
}

func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("checkpoint path is required")
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

// Save stamps st with the current time and writes it.
func (s *Store) Save(st State) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}
	st.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := writeFileAtomicDurable(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load returns the stored state. A missing file is reported as
// os.ErrNotExist.
func (s *Store) Load() (State, error) {
	var st State
	f, err := os.Open(s.path)
	if err != nil {
		return State{}, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		return State{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return State{}, errors.New("decode checkpoint: trailing content")
	}
	if err := st.Validate(); err != nil {
		return State{}, fmt.Errorf("invalid checkpoint on disk: %w", err)
	}
	return st, nil
}

func (s *Store) Remove() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
