// Package queue is the file-backed hand-off between rendering and delivery.
// A unit is a "{stem}.txt" message plus an optional "{stem}.jpg" image in the
// pending directory; delivered units are moved into the sent directory.
package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ArchiveLayout is the timestamp suffix given to archived files
const ArchiveLayout = "20060102_150405"

const (
	textExt  = ".txt"
	imageExt = ".jpg"
)

// Unit is one rendered advertisement waiting for delivery
type Unit struct {
	ItemID    string
	Stem      string
	TextPath  string
	ImagePath string // empty when the unit has no image
}

// HasImage reports whether the unit has an image file
func (u Unit) HasImage() bool { return u.ImagePath != "" }

// Text reads the message body
func (u Unit) Text() (string, error) {
	b, err := os.ReadFile(u.TextPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", u.TextPath, err)
	}
	return string(b), nil
}

// FileQueue keeps units on disk
type FileQueue struct {
	PendingDir string
	SentDir    string
}

// New creates a FileQueue, making both directories if needed
func New(pendingDir, sentDir string) (*FileQueue, error) {
	for _, d := range []string{pendingDir, sentDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return &FileQueue{PendingDir: pendingDir, SentDir: sentDir}, nil
}

// Stem builds the base file name for the index-th unit of a render run
func Stem(index int, itemID string) string {
	return fmt.Sprintf("offer_%03d_%s", index, itemID)
}

// ItemIDFromStem recovers the item ID (suffix after the last "_").
// It returns false when the suffix is not numeric.
func ItemIDFromStem(stem string) (string, bool) {
	i := strings.LastIndexByte(stem, '_')
	if i < 0 || i == len(stem)-1 {
		return "", false
	}
	id := stem[i+1:]
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id, true
}

// Enqueue writes the message text for a new unit
func (q *FileQueue) Enqueue(index int, itemID, text string) (Unit, error) {
	stem := Stem(index, itemID)
	u := Unit{ItemID: itemID, Stem: stem, TextPath: filepath.Join(q.PendingDir, stem+textExt)}
	if err := os.WriteFile(u.TextPath, []byte(text), 0644); err != nil {
		return Unit{}, fmt.Errorf("write unit %s: %w", stem, err)
	}
	return u, nil
}

// ImagePath is where the image of u belongs
func (q *FileQueue) ImagePath(u Unit) string {
	return filepath.Join(q.PendingDir, u.Stem+imageExt)
}

// AttachImage records that the image for u has been written
func (q *FileQueue) AttachImage(u Unit) Unit {
	u.ImagePath = q.ImagePath(u)
	return u
}

// ListPending returns pending units sorted by stem. Files whose stem has no
// numeric item ID suffix are ignored.
func (q *FileQueue) ListPending() ([]Unit, error) {
	entries, err := os.ReadDir(q.PendingDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", q.PendingDir, err)
	}

	images := map[string]bool{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), imageExt) {
			images[strings.TrimSuffix(e.Name(), imageExt)] = true
		}
	}

	var units []Unit
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, textExt) {
			continue
		}
		stem := strings.TrimSuffix(name, textExt)
		id, ok := ItemIDFromStem(stem)
		if !ok {
			continue
		}
		u := Unit{ItemID: id, Stem: stem, TextPath: filepath.Join(q.PendingDir, name)}
		if images[stem] {
			u.ImagePath = q.ImagePath(u)
		}
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Stem < units[j].Stem })
	return units, nil
}

// Archive moves the unit's files into the sent directory as
// "{stem}_{YYYYmmdd_HHMMSS}.{txt,jpg}". The image moves first and is moved
// back if the text cannot follow, so a failed archive leaves the unit pending
// with both files.
func (q *FileQueue) Archive(u Unit, at time.Time) error {
	if err := os.MkdirAll(q.SentDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", q.SentDir, err)
	}
	base := filepath.Join(q.SentDir, u.Stem+"_"+at.Format(ArchiveLayout))
	imageMoved := false
	if u.HasImage() {
		err := os.Rename(u.ImagePath, base+imageExt)
		switch {
		case err == nil:
			imageMoved = true
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("archive image %s: %w", u.Stem, err)
		}
	}
	if err := os.Rename(u.TextPath, base+textExt); err != nil {
		if imageMoved {
			if rerr := os.Rename(base+imageExt, u.ImagePath); rerr != nil {
				return fmt.Errorf("archive %s: %w (image left in %s: %v)", u.Stem, err, q.SentDir, rerr)
			}
		}
		return fmt.Errorf("archive %s: %w", u.Stem, err)
	}
	return nil
}

// ArchivedIDs returns the item IDs that have an archived message in the sent
// directory
func (q *FileQueue) ArchivedIDs() (map[string]bool, error) {
	entries, err := os.ReadDir(q.SentDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", q.SentDir, err)
	}
	suffix := len("_" + ArchiveLayout)
	ids := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, textExt) {
			continue
		}
		stem := strings.TrimSuffix(name, textExt)
		if len(stem) <= suffix {
			continue
		}
		if id, ok := ItemIDFromStem(stem[:len(stem)-suffix]); ok {
			ids[id] = true
		}
	}
	return ids, nil
}

// Clear removes every file from the pending directory
func (q *FileQueue) Clear() error {
	entries, err := os.ReadDir(q.PendingDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(q.PendingDir, 0755)
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(q.PendingDir, e.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", e.Name(), err)
		}
	}
	return nil
}
