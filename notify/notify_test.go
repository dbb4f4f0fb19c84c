package notify

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DrainAndDrop(t *testing.T) {
	q := NewQueue(2)
	q.Notify(Notification{Type: TypeInfo, Title: "one"})
	q.Notify(Notification{Type: TypeSuccess, Title: "two"})
	q.Notify(Notification{Type: TypeError, Title: "three"})

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Title)
	assert.Equal(t, "two", got[1].Title)
	assert.Equal(t, int64(1), q.Dropped())
	assert.Empty(t, q.Drain())
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(0)
	q.Notify(Notification{Title: "before"})
	q.Close()
	q.Close()
	q.Notify(Notification{Title: "after"})

	var titles []string
	for n := range q.C() {
		titles = append(titles, n.Title)
	}
	assert.Equal(t, []string{"before"}, titles)
}

func TestMulti(t *testing.T) {
	var a, b []string
	n := Multi(
		Func(func(n Notification) { a = append(a, n.Title) }),
		nil,
		Func(func(n Notification) { b = append(b, n.Title) }),
	)
	n.Notify(Notification{Title: "saved"})
	assert.Equal(t, []string{"saved"}, a)
	assert.Equal(t, []string{"saved"}, b)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	LogNotifier{Logger: logger}.Notify(Notification{Type: TypeWarning, Title: "Conflict detected", Message: "title changed"})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "Conflict detected")
	assert.Contains(t, out, "title changed")
}

func TestBusyFlag(t *testing.T) {
	var b BusyFlag
	assert.False(t, b.Busy())
	b.SetBusy(true)
	b.SetBusy(true)
	assert.True(t, b.Busy())
	b.SetBusy(false)
	assert.False(t, b.Busy())
	assert.Equal(t, int64(2), b.Toggles())
}

func TestBusyCounter(t *testing.T) {
	var flag BusyFlag
	c := NewBusyCounter(&flag)

	c.SetBusy(true)
	c.SetBusy(true)
	c.SetBusy(false)
	assert.True(t, flag.Busy(), "one holder left")
	c.SetBusy(false)
	assert.False(t, flag.Busy())
	c.SetBusy(false)
	assert.False(t, flag.Busy())
	assert.Equal(t, int64(2), flag.Toggles())
}
