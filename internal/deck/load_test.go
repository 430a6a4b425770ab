package deck

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func writeDeck(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "a.md", "Q: One\nA: 1\n---\nQ: Two\nA: 2\n")
	writeDeck(t, dir, "nested/b.md", "Q: one\nA: 1\n---\nQ: Three\nA: 3\nD: hard\n")
	writeDeck(t, dir, "notes.txt", "Q: ignored\nA: not markdown\n")
	writeDeck(t, dir, "broken.md", "Q: bad\nD: impossible\n")

	l := &Loader{}
	cards, err := l.Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load() returned an unexpected error: %v", err)
	}

	// "one" in b.md is a normalized duplicate of "One" in a.md.
	if len(cards) != 3 {
		t.Fatalf("Expected 3 cards, but got %d", len(cards))
	}
	if cards[0].Front != "One" || cards[1].Front != "Two" || cards[2].Front != "Three" {
		t.Errorf("Unexpected card order: %q, %q, %q", cards[0].Front, cards[1].Front, cards[2].Front)
	}
	if cards[2].Difficulty != "hard" {
		t.Errorf("Expected Three to be tagged hard, got '%s'", cards[2].Difficulty)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	l := &Loader{}
	if _, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("Expected an error for a missing directory")
	}
}

func TestIsGitURL(t *testing.T) {
	testCases := map[string]bool{
		"https://github.com/acme/decks.git": true,
		"git@github.com:acme/decks.git":     true,
		"file:///srv/decks":                 true,
		"./decks":                           false,
		"/home/me/decks":                    false,
	}
	for source, expected := range testCases {
		if got := IsGitURL(source); got != expected {
			t.Errorf("IsGitURL(%q) = %v, expected %v", source, got, expected)
		}
	}
}

func TestRepoPath(t *testing.T) {
	testCases := []struct {
		url      string
		expected string
	}{
		{"https://github.com/acme/decks.git", filepath.Join("repos", "github.com", "acme", "decks")},
		{"git@gitlab.com:team/cards.git", filepath.Join("repos", "gitlab.com", "team", "cards")},
		{"file:///srv/decks", filepath.Join("repos", "local", "srv", "decks")},
	}
	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			got, err := RepoPath("repos", tc.url)
			if err != nil {
				t.Fatalf("RepoPath() returned an unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("Expected '%s', but got '%s'", tc.expected, got)
			}
		})
	}

	if _, err := RepoPath("repos", "not a url"); err == nil {
		t.Error("Expected an error for an unparseable URL")
	}
}

func TestLoadGitRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	upstream := t.TempDir()
	repo, err := git.PlainInit(upstream, false)
	if err != nil {
		t.Fatal(err)
	}
	writeDeck(t, upstream, "deck.md", "Q: Capital of France?\nA: Paris\n")
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("deck.md"); err != nil {
		t.Fatal(err)
	}
	sig := &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}
	if _, err := wt.Commit("add deck", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatal(err)
	}

	l := &Loader{ReposDir: t.TempDir()}
	source := "file://" + filepath.ToSlash(upstream)
	cards, err := l.Load(context.Background(), source)
	if err != nil {
		t.Fatalf("Load() returned an unexpected error: %v", err)
	}
	if len(cards) != 1 || cards[0].Back != "Paris" {
		t.Fatalf("Expected the cloned card, got %+v", cards)
	}

	// A second load pulls into the existing clone.
	if _, err := l.Load(context.Background(), source); err != nil {
		t.Fatalf("second Load() returned an unexpected error: %v", err)
	}
}
