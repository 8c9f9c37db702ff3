// Package view keeps the bounded message feed the terminal client draws.
//
// A MessageView is not safe for concurrent use. The client mutates it only
// from its presentation loop.
package view

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/models"
	"github.com/samber/lo"
)

const DefaultCapacity = 100

type Options struct {
	// Capacity is the retention bound. Zero means DefaultCapacity.
	Capacity int
	// CoalesceSystem lets repeated System messages merge like any other.
	CoalesceSystem bool
	// Now is the clock used for receipt times. Defaults to time.Now.
	Now func() time.Time
}

// Entry is one row of the feed. Count is how many identical consecutive
// messages the row stands for.
type Entry struct {
	Author    string
	Body      string
	ChannelID uuid.UUID
	At        time.Time
	Count     int
}

func (e Entry) IsSystem() bool {
	return e.Author == models.SystemAuthor
}

type MessageView struct {
	entries []Entry
	opts    Options
}

func New(opts Options) *MessageView {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MessageView{opts: opts}
}

// Add appends msg, or folds it into the last entry when it repeats that
// entry's author and body. It reports whether a new entry was created.
func (v *MessageView) Add(msg models.ChatMessage) bool {
	at := msg.CreatedAt
	if at.IsZero() {
		at = v.opts.Now()
	}

	if n := len(v.entries); n > 0 {
		last := &v.entries[n-1]
		if last.Author == msg.Author && last.Body == msg.Body && (v.opts.CoalesceSystem || !msg.IsSystem()) {
			last.Count++
			last.At = at
			return false
		}
	}

	v.entries = append(v.entries, Entry{
		Author:    msg.Author,
		Body:      msg.Body,
		ChannelID: msg.ChannelID,
		At:        at,
		Count:     1,
	})
	if over := len(v.entries) - v.opts.Capacity; over > 0 {
		v.entries = lo.Drop(v.entries, over)
	}
	return true
}

// AddNotice appends a local System line stamped with the current time.
func (v *MessageView) AddNotice(text string) {
	v.Add(models.ChatMessage{Author: models.SystemAuthor, Body: text, CreatedAt: v.opts.Now()})
}

// Entries returns a copy of the feed, oldest first.
func (v *MessageView) Entries() []Entry {
	return append([]Entry(nil), v.entries...)
}

func (v *MessageView) Len() int {
	return len(v.entries)
}

// Last returns the newest entry.
func (v *MessageView) Last() (Entry, bool) {
	if len(v.entries) == 0 {
		return Entry{}, false
	}
	return v.entries[len(v.entries)-1], true
}

// Lines renders the feed relative to now, with a separator line wherever
// two neighbouring entries fall on different calendar days.
func (v *MessageView) Lines(now time.Time) []string {
	lines := make([]string, 0, len(v.entries)+1)
	var prev time.Time
	for i, e := range v.entries {
		if i == 0 || !sameDay(prev.In(now.Location()), e.At.In(now.Location())) {
			lines = append(lines, "── "+DateSeparator(e.At, now)+" ──")
		}
		prev = e.At

		line := fmt.Sprintf("[%s] %s: %s", RelativeTime(e.At, now), e.Author, e.Body)
		if e.Count > 1 {
			line += fmt.Sprintf(" (x%d)", e.Count)
		}
		lines = append(lines, line)
	}
	return lines
}

// RelativeTime describes t as seen from now: "Just now", "5 minutes ago",
// "Yesterday", and so on. Anything a week or older gets an absolute date.
func RelativeTime(t, now time.Time) string {
	seconds := int64(now.Sub(t) / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	switch {
	case seconds < 10:
		return "Just now"
	case seconds < 60:
		return fmt.Sprintf("%d seconds ago", seconds)
	case minutes == 1:
		return "1 minute ago"
	case minutes < 60:
		return fmt.Sprintf("%d minutes ago", minutes)
	case hours == 1:
		return "1 hour ago"
	case hours < 24:
		return fmt.Sprintf("%d hours ago", hours)
	case days == 1:
		return "Yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.In(now.Location()).Format("Jan 2, 2006")
	}
}

// DateSeparator names the calendar day of t relative to now.
func DateSeparator(t, now time.Time) string {
	t = t.In(now.Location())
	switch {
	case sameDay(t, now):
		return "Today"
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return t.Format("January 2, 2006")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
