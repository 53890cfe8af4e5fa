package router

import "strings"

// parseCommand splits "/word@bot rest" into the lowercased word, the args
// and the raw payload. ok is false for non-command text.
func parseCommand(text string) (word string, args []string, payload string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", nil, "", false
	}
	head := text
	if i := strings.IndexAny(text, " \t\n\r"); i >= 0 {
		head = text[:i]
		payload = strings.TrimSpace(text[i:])
	}
	word = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, "", false
	}
	return strings.ToLower(word), splitArgs(payload), payload, true
}

// splitArgs cuts on whitespace and commas, so "1, 2 3" is three ids.
func splitArgs(payload string) []string {
	args := strings.FieldsFunc(payload, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(args) == 0 {
		return nil
	}
	return args
}
