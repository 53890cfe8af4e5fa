package content

import (
	"context"
	"errors"
	"math/rand/v2"
)

var (
	ErrCircuitOpen = errors.New("content: circuit open")
	ErrDisabled    = errors.New("content: source disabled")
	ErrExhausted   = errors.New("content: no acceptable candidate")
)

type SourceKind string

const (
	SourceRemote  SourceKind = "remote-catalog"
	SourceLocal   SourceKind = "local-list"
	SourceDefault SourceKind = "default"
)

type Category string

const (
	CategoryMovie Category = "movie"
	CategoryShow  Category = "show"
)

// Item is one selected title. PosterURL is empty when the source has none;
// Year is 0 when unknown.
type Item struct {
	Title     string
	Source    SourceKind
	PosterURL string
	Category  Category
	Year      int
}

// ErrorKind classifies why a source produced no item.
type ErrorKind int

const (
	KindOK ErrorKind = iota
	KindUnavailable
	KindEmpty
	KindRejected
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindUnavailable:
		return "unavailable"
	case KindEmpty:
		return "empty"
	case KindRejected:
		return "rejected"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result carries either an Item (Kind == KindOK) or the reason there is none.
type Result struct {
	Item Item
	Kind ErrorKind
	Err  error
}

func (r Result) OK() bool { return r.Kind == KindOK && r.Item.Title != "" }

func found(it Item) Result { return Result{Item: it} }

func failed(kind ErrorKind, err error) Result { return Result{Kind: kind, Err: err} }

type Source interface {
	Name() string
	Fetch(ctx context.Context) Result
}

// Rand is the randomness the sources draw from. Tests inject a fixed one.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// DefaultRand uses the process-wide math/rand/v2 source.
func DefaultRand() Rand { return globalRand{} }
