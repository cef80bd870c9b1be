package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrDuplicateFile is matched by *DuplicateFileError
var ErrDuplicateFile = errors.New("file already processed")

// DuplicateFileError is returned before any parsing when a file's content
// hash was already ingested, or when both inputs have identical content.
type DuplicateFileError struct {
	Hash              string
	Filename          string
	PriorFilename     string
	PriorExperimentID int64 // 0 when the duplicate is within one request
	ProcessedAt       time.Time
}

func (e *DuplicateFileError) Error() string {
	if e.PriorExperimentID == 0 {
		return fmt.Sprintf("%s has the same content as %s", e.Filename, e.PriorFilename)
	}
	return fmt.Sprintf("%s already processed as %s for experiment %d on %s",
		e.Filename, e.PriorFilename, e.PriorExperimentID, e.ProcessedAt.Format("2006-01-02 15:04"))
}

func (e *DuplicateFileError) Is(target error) bool { return target == ErrDuplicateFile }

// File is one raw cycler export
type File struct {
	Name string // base name, its extension selects the reader
	Data []byte
	Hash string // SHA256 hex, computed on demand
}

// Empty reports whether no file was supplied
func (f File) Empty() bool {
	return f.Name == "" && len(f.Data) == 0
}

func (f *File) hash() string {
	if f.Hash == "" {
		f.Hash = HashContent(f.Data)
	}
	return f.Hash
}

// HashContent returns the SHA256 hex digest of raw file bytes
func HashContent(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// LoadFile reads and hashes one file from disk
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return File{Name: filepath.Base(path), Data: data, Hash: HashContent(data)}, nil
}

// ReadFiles loads the step and detail exports concurrently. An empty
// detailPath yields an empty detail File.
func ReadFiles(ctx context.Context, stepPath, detailPath string) (step, detail File, err error) {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		step, err = LoadFile(stepPath)
		return err
	})
	if detailPath != "" {
		g.Go(func() error {
			var err error
			detail, err = LoadFile(detailPath)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return File{}, File{}, err
	}
	return step, detail, nil
}
