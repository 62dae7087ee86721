package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"

	"github.com/onnwee/emotebot/command"
	"github.com/onnwee/emotebot/emote"
	"github.com/onnwee/emotebot/rewrite"
	"github.com/onnwee/emotebot/spoiler"
)

// call is one recorded platform call.
type call struct {
	Op      string
	Channel string
	Message string
	Text    string
	File    string
}

type fakePlatform struct {
	mu     sync.Mutex
	calls  []call
	failOn string // op that returns an error
}

var errPlatform = errors.New("platform down")

func (f *fakePlatform) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if c.Op == f.failOn {
		return errPlatform
	}
	return nil
}

func (f *fakePlatform) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakePlatform) Edit(ctx context.Context, channelID, messageID, text string) error {
	return f.record(call{Op: "edit", Channel: channelID, Message: messageID, Text: text})
}

func (f *fakePlatform) Send(ctx context.Context, channelID, text string) error {
	return f.record(call{Op: "send", Channel: channelID, Text: text})
}

func (f *fakePlatform) SendFile(ctx context.Context, channelID, text, fileName string, data []byte) error {
	return f.record(call{Op: "file", Channel: channelID, Text: text, File: fileName})
}

func (f *fakePlatform) Delete(ctx context.Context, channelID, messageID string) error {
	return f.record(call{Op: "delete", Channel: channelID, Message: messageID})
}

type finder map[string]*emote.Emote

func (m finder) FindByName(name string) (*emote.Emote, bool) {
	e, ok := m[name]
	return e, ok
}

var wave = &emote.Emote{Name: "wave", FileName: "wave.gif", Kind: "gifs", Data: []byte("gif")}

func newTestBot(p Platform, reg *spoiler.Registry) *Bot {
	engine := &rewrite.Engine{Local: finder{"wave": wave}}
	cmds := command.NewDispatcher("!", command.Spoiler{Registry: reg}, command.Palette("https://e.example"))
	return New(Options{Name: "me", UserID: "u1", EmotePrefix: ":", TextPrefix: "$"}, p, engine, cmds, reg)
}

func msg(content string) Message {
	return Message{ID: "m1", ChannelID: "c1", AuthorID: "u1", Content: content}
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want []call
	}{
		{
			name: "text around emote",
			msg:  msg("hello :wave bye"),
			want: []call{
				{Op: "edit", Channel: "c1", Message: "m1", Text: "hello "},
				{Op: "file", Channel: "c1", File: "wave.gif"},
				{Op: "send", Channel: "c1", Text: "bye"},
			},
		},
		{
			name: "lone emote deletes original",
			msg:  msg(":wave"),
			want: []call{
				{Op: "file", Channel: "c1", File: "wave.gif"},
				{Op: "delete", Channel: "c1", Message: "m1"},
			},
		},
		{
			name: "lone emote with attachments blanks original",
			msg:  Message{ID: "m1", ChannelID: "c1", AuthorID: "u1", Content: ":wave", HasAttachments: true},
			want: []call{
				{Op: "file", Channel: "c1", File: "wave.gif"},
				{Op: "edit", Channel: "c1", Message: "m1"},
			},
		},
		{
			name: "text emote edit",
			msg:  msg("ok $shrug"),
			want: []call{{Op: "edit", Channel: "c1", Message: "m1", Text: `ok ¯\\\_(ツ)\_/¯`}},
		},
		{
			name: "command replies and deletes",
			msg:  msg("!palette"),
			want: []call{
				{Op: "send", Channel: "c1", Text: "https://e.example/palette"},
				{Op: "delete", Channel: "c1", Message: "m1"},
			},
		},
		{
			name: "other authors are ignored",
			msg:  Message{ID: "m1", ChannelID: "c1", AuthorID: "someone", Content: ":wave"},
			want: nil,
		},
		{
			name: "plain text untouched",
			msg:  msg("nothing to see"),
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlatform{}
			b := newTestBot(p, spoiler.NewRegistry())
			if err := b.HandleMessage(context.Background(), tt.msg); err != nil {
				t.Fatalf("HandleMessage() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, p.calls); diff != "" {
				t.Errorf("platform calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleMessageSpoilerMode(t *testing.T) {
	reg := spoiler.NewRegistry()
	p := &fakePlatform{}
	b := newTestBot(p, reg)
	ctx := context.Background()

	if err := b.HandleMessage(ctx, msg("!sm")); err != nil {
		t.Fatal(err)
	}
	if !reg.IsEnabled("c1") {
		t.Fatal("spoiler command did not enable spoiler mode")
	}
	p.calls = nil
	if err := b.HandleMessage(ctx, msg("hi :wave")); err != nil {
		t.Fatal(err)
	}
	want := []call{
		{Op: "edit", Channel: "c1", Message: "m1", Text: "|| hi ||"},
		{Op: "file", Channel: "c1", File: "wave.gif"},
	}
	if diff := cmp.Diff(want, p.calls); diff != "" {
		t.Errorf("platform calls mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleMessageStopsAtFirstFailure(t *testing.T) {
	p := &fakePlatform{failOn: "file"}
	b := newTestBot(p, spoiler.NewRegistry())

	err := b.HandleMessage(context.Background(), msg("hello :wave bye"))
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("HandleMessage() error = %v, want *ActionError", err)
	}
	if actionErr.Index != 1 || actionErr.Kind != rewrite.SendAttachment || !errors.Is(err, errPlatform) {
		t.Errorf("ActionError = %+v", actionErr)
	}
	// The trailing text and the delete were abandoned.
	if len(p.calls) != 2 {
		t.Errorf("got %d platform calls, want 2: %+v", len(p.calls), p.calls)
	}
}

func TestHandleMessageDeleteFailure(t *testing.T) {
	p := &fakePlatform{failOn: "delete"}
	b := newTestBot(p, spoiler.NewRegistry())
	if err := b.HandleMessage(context.Background(), msg(":wave")); !errors.Is(err, errPlatform) {
		t.Errorf("HandleMessage() error = %v, want delete failure", err)
	}
}

func TestExecuteNilPlatform(t *testing.T) {
	plan := &rewrite.Plan{Actions: []rewrite.Action{{Kind: rewrite.SendText, Text: "x"}}}
	if err := Execute(context.Background(), nil, msg("x"), plan); !errors.Is(err, ErrNoPlatform) {
		t.Errorf("Execute() error = %v, want ErrNoPlatform", err)
	}
	if err := Execute(context.Background(), nil, msg("x"), nil); err != nil {
		t.Errorf("Execute(nil plan) error = %v", err)
	}
}

func TestRunProcessesInOrder(t *testing.T) {
	p := &fakePlatform{}
	b := newTestBot(p, spoiler.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	for i, content := range []string{"a :wave", "b :wave", "c :wave"} {
		m := msg(content)
		m.ID = string(rune('1' + i))
		if err := b.Enqueue(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for queued messages")
		case <-time.After(5 * time.Millisecond):
		}
		if len(p.snapshot()) == 6 {
			break
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	var edits []string
	for _, c := range p.snapshot() {
		if c.Op == "edit" {
			edits = append(edits, c.Message+":"+c.Text)
		}
	}
	if diff := cmp.Diff([]string{"1:a ", "2:b ", "3:c "}, edits); diff != "" {
		t.Errorf("edit order mismatch (-want +got):\n%s", diff)
	}
}

func TestFromDiscord(t *testing.T) {
	author := &discordgo.User{ID: "u1"}
	tests := []struct {
		name   string
		m      *discordgo.Message
		edited bool
		want   Message
		ok     bool
	}{
		{
			name: "create",
			m:    &discordgo.Message{ID: "1", ChannelID: "c", Author: author, Content: ":wave"},
			want: Message{ID: "1", ChannelID: "c", AuthorID: "u1", Content: ":wave"},
			ok:   true,
		},
		{
			name: "create with attachments",
			m: &discordgo.Message{ID: "1", ChannelID: "c", Author: author,
				Attachments: []*discordgo.MessageAttachment{{ID: "a"}}},
			want: Message{ID: "1", ChannelID: "c", AuthorID: "u1", HasAttachments: true},
			ok:   true,
		},
		{
			name:   "edit",
			m:      &discordgo.Message{ID: "1", ChannelID: "c", Author: author, Content: "x"},
			edited: true,
			want:   Message{ID: "1", ChannelID: "c", AuthorID: "u1", Content: "x", Edited: true},
			ok:     true,
		},
		{name: "edit without content", m: &discordgo.Message{ID: "1", Author: author}, edited: true},
		{name: "no author", m: &discordgo.Message{ID: "1", Content: "x"}},
		{name: "nil", m: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := fromDiscord(tt.m, tt.edited)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
