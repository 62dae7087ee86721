package rewrite

import (
	"fmt"
	"strings"

	"github.com/onnwee/emotebot/emote"
)

// ActionKind is the kind of a platform action in a Plan.
type ActionKind int

const (
	// EditOriginal replaces the text of the original message.
	EditOriginal ActionKind = iota
	// SendText sends a new plain message.
	SendText
	// SendAttachment sends a new message carrying an emote attachment.
	SendAttachment
)

// String returns a short name used in logs and metric labels.
func (k ActionKind) String() string {
	switch k {
	case EditOriginal:
		return "edit"
	case SendText:
		return "send_text"
	case SendAttachment:
		return "send_attachment"
	default:
		return "unknown"
	}
}

// Action is one step of a Plan. Emote is set only for SendAttachment.
type Action struct {
	Kind  ActionKind
	Text  string
	Emote *emote.Emote
}

// Plan is the ordered list of actions that replaces one message, plus
// whether the original should be deleted once the actions are done.
type Plan struct {
	Actions        []Action
	DeleteOriginal bool
}

// Attachments returns the number of SendAttachment actions.
func (p *Plan) Attachments() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, a := range p.Actions {
		if a.Kind == SendAttachment {
			n++
		}
	}
	return n
}

func (p *Plan) String() string {
	if p == nil {
		return "<no plan>"
	}
	var b strings.Builder
	for i, a := range p.Actions {
		if i > 0 {
			b.WriteString(", ")
		}
		switch a.Kind {
		case SendAttachment:
			fmt.Fprintf(&b, "%s(%q, %s)", a.Kind, a.Text, a.Emote.Name)
		default:
			fmt.Fprintf(&b, "%s(%q)", a.Kind, a.Text)
		}
	}
	fmt.Fprintf(&b, " delete=%v", p.DeleteOriginal)
	return b.String()
}
