package turn

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// scratch owns the temporary files of one turn. Every file it creates is
// removed by cleanup, which callers defer so that panics unwind through it.
type scratch struct {
	dir    string
	prefix string
	keep   bool
	paths  []string
}

func newScratch(dir, turnID string, keep bool) *scratch {
	return &scratch{dir: dir, prefix: "talkloop-" + turnID + "-", keep: keep}
}

// write stores data in a new temp file with the given extension and returns
// its path.
func (s *scratch) write(data []byte, ext string) (string, error) {
	f, err := os.CreateTemp(s.dir, s.prefix+"*"+ext)
	if err != nil {
		return "", fmt.Errorf("turn: create temp file: %w", err)
	}
	s.paths = append(s.paths, f.Name())

	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return "", fmt.Errorf("turn: write temp file: %w", err)
	}
	return f.Name(), nil
}

// cleanup removes every file created by write.
func (s *scratch) cleanup() {
	if s.keep {
		for _, p := range s.paths {
			slog.Debug("keeping temp file", "path", p)
		}
		return
	}
	for _, p := range s.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove temp file", "path", p, "err", err)
		}
	}
	s.paths = nil
}
