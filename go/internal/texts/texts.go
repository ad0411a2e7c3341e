package texts

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Mode selects how a Source turns passages into race text
type Mode string

const (
	// ModeConcat races on all passages joined with a space
	ModeConcat Mode = "concat"
	// ModeRandom races on one passage picked per round
	ModeRandom Mode = "random"
)

// Source hands out the text for the next round
type Source interface {
	Next() string
}

// Passages is the set of texts players can be asked to type
type Passages []string

type passagesFile struct {
	Passages []string `yaml:"passages"`
}

var defaultPassages = Passages{
	"The quick brown fox jumps over the lazy dog while the farmer counts his sheep by the old stone wall.",
	"Typing fast is less about moving your fingers quickly and more about never having to look down at the keys.",
	"A river cuts through rock not because of its power but because of its persistence.",
	"Every morning the baker lit the ovens before sunrise so the whole street smelled of fresh bread by seven.",
	"Good software is built in small steps, each one tested, each one reviewed, each one shipped.",
}

// Default returns the built-in passages
func Default() Passages {
	out := make(Passages, len(defaultPassages))
	copy(out, defaultPassages)
	return out
}

// LoadFile reads passages from a YAML file of the form
//
//	passages:
//	  - first passage
//	  - second passage
func LoadFile(path string) (Passages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read passages file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML passages, dropping blank entries
func Parse(data []byte) (Passages, error) {
	var f passagesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse passages: %w", err)
	}

	out := make(Passages, 0, len(f.Passages))
	for _, p := range f.Passages {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("passages file contains no passages")
	}
	return out, nil
}

// ParseMode maps a config value onto a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeConcat:
		return ModeConcat, nil
	case ModeRandom:
		return ModeRandom, nil
	default:
		return "", fmt.Errorf("unknown race text mode %q", s)
	}
}

// NewSource builds a Source over passages. rnd is only used in ModeRandom
// and may be nil, in which case a time seeded generator is used.
func NewSource(passages Passages, mode Mode, rnd *rand.Rand) Source {
	if len(passages) == 0 {
		passages = Default()
	}
	if mode == ModeRandom {
		if rnd == nil {
			rnd = rand.New(rand.NewSource(rand.Int63()))
		}
		return &randomSource{passages: passages, rnd: rnd}
	}
	return fixedSource(strings.Join(passages, " "))
}

type fixedSource string

func (s fixedSource) Next() string { return string(s) }

type randomSource struct {
	mu       sync.Mutex
	passages Passages
	rnd      *rand.Rand
}

func (s *randomSource) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passages[s.rnd.Intn(len(s.passages))]
}
