package deck

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/conorfennell/recall/internal/domain"
)

// Loader reads decks from local directories or git repositories.
type Loader struct {
	// ReposDir holds clones of git-hosted decks.
	ReposDir string
	Logger   *slog.Logger
	// Progress receives git transfer output; nil discards it.
	Progress io.Writer
}

// Load returns the cards of every markdown file under source. A git URL is
// cloned (or pulled) into ReposDir first. Cards with identical content are
// kept once, in file-walk order. Files that fail to parse are logged and skipped.
func (l *Loader) Load(ctx context.Context, source string) ([]domain.Card, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dir := source
	if IsGitURL(source) {
		local, err := RepoPath(l.ReposDir, source)
		if err != nil {
			return nil, err
		}
		if err := SyncRepo(ctx, source, local, logger, l.Progress); err != nil {
			return nil, err
		}
		dir = local
	}

	var (
		cards       []domain.Card
		seen        = make(map[string]bool)
		parseErrors int
	)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		fileCards, err := ParseFile(path)
		if err != nil {
			parseErrors++
			logger.Warn("skipping deck file", "path", path, "error", err)
			return nil
		}
		for _, c := range fileCards {
			if seen[c.ID] {
				logger.Debug("duplicate card", "path", path, "card_id", c.ID)
				continue
			}
			seen[c.ID] = true
			cards = append(cards, c)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("error walking directory %s: %w", dir, walkErr)
	}

	logger.Info("deck loaded", "path", dir, "cards", len(cards), "errors", parseErrors)
	return cards, nil
}
