package tgui

import "strings"

// Builder assembles a multi-line HTML reply.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds "emoji <b>title</b>".
func (b *Builder) Title(emoji, title string) *Builder {
	t := B(strings.TrimSpace(title))
	if e := strings.TrimSpace(emoji); e != "" {
		t = Esc(e) + " " + t
	}
	b.lines = append(b.lines, t.String())
	return b
}

// Line adds an escaped text line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML adds a line that is already safe.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// KV adds "key: value" with the value escaped.
func (b *Builder) KV(key, value string) *Builder {
	b.lines = append(b.lines, Esc(key).String()+": "+Esc(value).String())
	return b
}

// Bullets adds one "- item" line per item, each rendered with fn.
func (b *Builder) Bullets(items []string, fn func(string) H) *Builder {
	for _, it := range items {
		b.lines = append(b.lines, "- "+fn(it).String())
	}
	return b
}

// Build joins the lines, dropping trailing blank ones.
func (b *Builder) Build() string {
	return strings.TrimRight(strings.Join(b.lines, "\n"), "\n")
}
