// Package caption turns a title into its "ruined" form.
package caption

import (
	"strings"
	"sync/atomic"
	"unicode"
)

const Phrase = "nel c*lo"

// Transform maps a title to its caption. Implementations are pure.
type Transform func(title string) string

const (
	StrategySuffix = "suffix"
	StrategyInsert = "insert"
)

// Ruin appends the phrase to the title.
func Ruin(title string) string {
	t := normalize(title)
	if t == "" {
		return Phrase
	}
	return t + " " + Phrase
}

// Insert places the phrase right after the last content word, leaving any
// trailing function words after it. Punctuation that ends that word moves
// after the phrase. Titles with no content word get the suffix form.
func Insert(title string) string {
	words := strings.Fields(title)
	at := -1
	for i := len(words) - 1; i >= 0; i-- {
		if isContentWord(words[i]) {
			at = i
			break
		}
	}
	if at < 0 {
		return Ruin(title)
	}

	word, punct := splitTrailingPunct(words[at])
	out := make([]string, 0, len(words)+2)
	out = append(out, words[:at]...)
	out = append(out, word, Phrase+punct)
	out = append(out, words[at+1:]...)
	return strings.Join(out, " ")
}

// ByName returns the named strategy. Unknown names get Ruin.
func ByName(name string) Transform {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case StrategyInsert:
		return Insert
	default:
		return Ruin
	}
}

// Switch holds the active strategy and can be changed on config reload.
type Switch struct {
	name atomic.Pointer[string]
}

func NewSwitch(name string) *Switch {
	s := &Switch{}
	s.Set(name)
	return s
}

func (s *Switch) Set(name string) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n != StrategyInsert {
		n = StrategySuffix
	}
	s.name.Store(&n)
}

func (s *Switch) Name() string {
	if p := s.name.Load(); p != nil {
		return *p
	}
	return StrategySuffix
}

func (s *Switch) Ruin(title string) string { return ByName(s.Name())(title) }

func normalize(s string) string { return strings.Join(strings.Fields(s), " ") }

func splitTrailingPunct(w string) (string, string) {
	end := len(w)
	for end > 0 {
		r := rune(w[end-1])
		if r >= 0x80 || !unicode.IsPunct(r) {
			break
		}
		end--
	}
	if end == 0 {
		return w, ""
	}
	return w[:end], w[end:]
}

// isContentWord reports whether w has letters or digits and is not an
// Italian article, preposition or conjunction.
func isContentWord(w string) bool {
	core := strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
	if core == "" {
		return false
	}
	_, fn := functionWords[core]
	return !fn
}

var functionWords = func() map[string]struct{} {
	list := []string{
		// articles
		"il", "lo", "la", "i", "gli", "le", "l", "un", "uno", "una",
		// prepositions, plain and articulated
		"di", "a", "da", "in", "con", "su", "per", "tra", "fra",
		"del", "dello", "della", "dei", "degli", "delle",
		"al", "allo", "alla", "ai", "agli", "alle",
		"dal", "dallo", "dalla", "dai", "dagli", "dalle",
		"nel", "nello", "nella", "nei", "negli", "nelle",
		"sul", "sullo", "sulla", "sui", "sugli", "sulle",
		"col", "coi",
		// conjunctions
		"e", "ed", "o", "od", "ma", "che", "né",
		// english leftovers in mixed titles
		"the", "of", "and", "an",
	}
	m := make(map[string]struct{}, len(list))
	for _, w := range list {
		m[w] = struct{}{}
	}
	return m
}()
