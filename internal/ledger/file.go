package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// maxLineSize bounds a single journal line. Titles are short; anything
// longer is corrupt.
const maxLineSize = 1 << 20

// legacyStampLayout is the timestamp prefix written by the old bot's log file.
const legacyStampLayout = "2006-01-02 15:04:05"

var (
	reLegacyStamp  = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)
	rePostedFull   = regexp.MustCompile(`Posted: (.*?) \| (.*?) \| Community: (.*)`)
	rePostedLegacy = regexp.MustCompile(`Posted: (.*?) \| (.*)`)

	errNotARecord = errors.New("not a publication record")
)

// FileJournal stores records as JSON lines in an append-only file. It also
// reads the old "<timestamp> Posted: title | url | Community: name" log lines
// so an existing bot log can be used as the ledger directly.
type FileJournal struct {
	path string
	loc  *time.Location

	mu sync.Mutex
}

// NewFileJournal returns a journal backed by the file at path. The file is
// created on first append.
func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path, loc: time.Local}
}

// Path returns the journal file location.
func (j *FileJournal) Path() string {
	return j.path
}

// Append writes rec as one JSON line and syncs the file.
func (j *FileJournal) Append(_ context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", j.path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", j.path, err)
	}
	return f.Sync()
}

// Load reads every record in the file. A missing file is an empty journal.
func (j *FileJournal) Load(ctx context.Context) (LoadResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var res LoadResult
	err := j.scan(ctx, func(n int, raw string, pl parsedLine, perr error) {
		if perr != nil {
			res.Warnings = append(res.Warnings, ParseWarning{Line: n, Text: raw, Err: perr})
			return
		}
		res.Records = append(res.Records, pl.rec)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return LoadResult{}, nil
	}
	return res, err
}

// Prune rewrites the file keeping only lines stamped at or after cutoff.
// Unstamped lines are dropped. The rewrite goes through a temporary file and
// a rename so a crash never leaves a truncated ledger.
func (j *FileJournal) Prune(ctx context.Context, cutoff time.Time) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var (
		kept    []string
		removed []Record
	)
	err := j.scan(ctx, func(_ int, raw string, pl parsedLine, perr error) {
		if !pl.stamp.IsZero() && !pl.stamp.Before(cutoff) {
			kept = append(kept, raw)
			return
		}
		if perr == nil {
			removed = append(removed, pl.rec)
		}
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := j.rewrite(kept); err != nil {
		return nil, err
	}
	return removed, nil
}

func (j *FileJournal) scan(ctx context.Context, fn func(n int, raw string, pl parsedLine, err error)) error {
	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	n := 0
	for sc.Scan() {
		n++
		if n%1000 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		raw := sc.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		pl, perr := parseLine(raw, j.loc)
		fn(n, raw, pl, perr)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", j.path, err)
	}
	return nil
}

func (j *FileJournal) rewrite(lines []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(j.path), filepath.Base(j.path)+".prune-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	mode := os.FileMode(0o644)
	if info, err := os.Stat(j.path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}

	w := bufio.NewWriter(tmp)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("write temp: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, j.path); err != nil {
		return fmt.Errorf("replace %s: %w", j.path, err)
	}
	return nil
}

// parsedLine is one journal line. stamp is set whenever the line carries a
// timestamp, even if it is not a publication record.
type parsedLine struct {
	rec   Record
	stamp time.Time
}

func parseLine(raw string, loc *time.Location) (parsedLine, error) {
	line := strings.TrimSpace(raw)

	if strings.HasPrefix(line, "{") {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return parsedLine{}, fmt.Errorf("decode record: %w", err)
		}
		if rec.URL == "" || rec.PostedAt.IsZero() {
			return parsedLine{stamp: rec.PostedAt}, errors.New("record missing url or posted_at")
		}
		return parsedLine{rec: rec, stamp: rec.PostedAt}, nil
	}

	var pl parsedLine
	if m := reLegacyStamp.FindStringSubmatch(line); m != nil {
		if t, err := time.ParseInLocation(legacyStampLayout, m[1], loc); err == nil {
			pl.stamp = t
		}
	}

	var title, link, community string
	if m := rePostedFull.FindStringSubmatch(line); m != nil {
		title, link, community = m[1], m[2], m[3]
	} else if m := rePostedLegacy.FindStringSubmatch(line); m != nil {
		title, link = m[1], m[2]
	} else {
		return pl, errNotARecord
	}

	pl.rec = Record{
		PostedAt:    pl.stamp,
		Title:       strings.TrimSpace(title),
		URL:         strings.TrimSpace(link),
		Destination: strings.TrimSpace(community),
		Legacy:      true,
	}
	return pl, nil
}
