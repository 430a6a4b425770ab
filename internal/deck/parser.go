// Package deck turns markdown decks into cards that can be scheduled.
package deck

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/recall/internal/domain"
)

const (
	questionPrefix   = "Q:"
	answerPrefix     = "A:"
	difficultyPrefix = "D:"
	separator        = "---"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
)

// ParseFile reads a file from the given path and extracts all cards.
func ParseFile(path string) ([]domain.Card, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cards, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cards, nil
}

// Parse reads from an io.Reader and extracts all cards. Every card gets its
// content hash as ID. A "D:" line tags the card being read with a difficulty;
// one that precedes the question of its card is an error.
func Parse(r io.Reader) ([]domain.Card, error) {
	scanner := bufio.NewScanner(r)
	var (
		cards        []domain.Card
		current      domain.Card
		block        []string
		currentState = seeking
	)

	flushBlock := func() {
		if len(block) == 0 {
			return
		}
		content := strings.TrimRight(strings.Join(block, "\n"), "\n")
		switch currentState {
		case readingQuestion:
			current.Front = content
		case readingAnswer:
			current.Back = content
		}
		block = nil
	}

	finishCard := func() {
		flushBlock()
		if current.Front != "" {
			current.ID = Hash(current)
			cards = append(cards, current)
		}
		current = domain.Card{}
		currentState = seeking
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		switch {
		case line == separator:
			finishCard()
		case strings.HasPrefix(line, questionPrefix):
			// A new question always starts a new card.
			finishCard()
			currentState = readingQuestion
			block = append(block, stripPrefix(line, questionPrefix))
		case strings.HasPrefix(line, answerPrefix):
			flushBlock()
			currentState = readingAnswer
			block = append(block, stripPrefix(line, answerPrefix))
		case strings.HasPrefix(line, difficultyPrefix):
			flushBlock()
			if current.Front == "" {
				return nil, fmt.Errorf("line %d: difficulty line before a question", lineNo)
			}
			d := domain.Difficulty(strings.ToLower(strings.TrimSpace(stripPrefix(line, difficultyPrefix))))
			if !d.IsValid() {
				return nil, fmt.Errorf("line %d: unknown difficulty %q", lineNo, d)
			}
			current.Difficulty = d
			// Text after a difficulty line belongs to no field.
			currentState = seeking
		case currentState != seeking:
			block = append(block, line)
		}
	}

	finishCard()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cards, nil
}

func stripPrefix(line, prefix string) string {
	return strings.TrimPrefix(line[len(prefix):], " ")
}
