// Package textemote replaces short textual triggers (prefix + word) with
// literal Unicode art such as the lenny face.
package textemote

import "strings"

// Entry maps a set of trigger words to one replacement.
type Entry struct {
	Triggers    []string
	Replacement string
}

// Table is applied in order. A trigger that shares a prefix with a shorter one
// must come first, or the shorter trigger clobbers it.
type Table []Entry

// DefaultTable is the built-in trigger table.
var DefaultTable = Table{
	{Triggers: []string{"lf", "lennyface", "lenny"}, Replacement: "( ͡° ͜ʖ ͡°)"},
	{Triggers: []string{"shrug", "s"}, Replacement: `¯\\\_(ツ)\_/¯`},
}

// Apply runs DefaultTable over content.
func Apply(content, prefix string) string {
	return DefaultTable.Apply(content, prefix)
}

// Apply replaces every prefix+trigger occurrence with its replacement. An empty
// prefix, or one that never occurs in content, leaves content unchanged.
func (t Table) Apply(content, prefix string) string {
	if prefix == "" || !strings.Contains(content, prefix) {
		return content
	}
	for _, entry := range t {
		for _, trigger := range entry.Triggers {
			content = strings.ReplaceAll(content, prefix+trigger, entry.Replacement)
		}
	}
	return content
}
