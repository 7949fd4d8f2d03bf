package archive_test

import (
	"sync"
	"testing"
	"time"

	"github.com/didata-ai/didata/internal/archive"
)

func TestLog_AppendText(t *testing.T) {
	t.Parallel()
	l := archive.NewLog()
	m := archive.NewMessage(archive.SenderAssistant, "ol", time.Now())
	l.Append(m)

	if !l.AppendText(m.ID, "á") {
		t.Fatal("AppendText: message not found")
	}
	if l.AppendText("missing", "x") {
		t.Fatal("AppendText on missing id reported success")
	}
	got, ok := l.Get(m.ID)
	if !ok || got.Text != "olá" {
		t.Fatalf("Get = %+v, %v; want text %q", got, ok, "olá")
	}
	if l.Version() != 2 {
		t.Fatalf("Version = %d; want 2 (failed AppendText must not bump)", l.Version())
	}
}

func TestLog_SnapshotIsCopy(t *testing.T) {
	t.Parallel()
	l := archive.NewLog()
	l.Append(archive.Message{ID: "a", Text: "x"})

	snap, v := l.Snapshot()
	snap[0].Text = "changed"
	again, v2 := l.Snapshot()
	if again[0].Text != "x" || v != v2 {
		t.Fatalf("snapshot aliasing: %+v (v %d, %d)", again, v, v2)
	}
}

func TestLog_ReplaceAndReset(t *testing.T) {
	t.Parallel()
	l := archive.NewLog()
	l.Replace([]archive.Message{{ID: "a"}, {ID: "b"}})
	if l.Len() != 2 {
		t.Fatalf("Len = %d; want 2", l.Len())
	}
	l.Reset()
	if l.Len() != 0 {
		t.Fatalf("Len after Reset = %d", l.Len())
	}
	if l.Version() != 2 {
		t.Fatalf("Version = %d; want 2", l.Version())
	}
}

func TestLog_OnChange(t *testing.T) {
	t.Parallel()
	l := archive.NewLog()

	var (
		mu   sync.Mutex
		seen []uint64
	)
	l.OnChange(func(v uint64) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
		// Listeners run outside the lock.
		_ = l.Len()
	})

	l.Append(archive.Message{ID: "a"})
	l.AppendText("a", "x")
	l.AppendText("nope", "x")
	l.Reset()

	mu.Lock()
	defer mu.Unlock()
	want := []uint64{1, 2, 3}
	if len(seen) != len(want) {
		t.Fatalf("versions = %v; want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("versions = %v; want %v", seen, want)
		}
	}
}

func TestNewMessage_TimeOrderedIDs(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := archive.NewMessage(archive.SenderUser, "a", now)
	b := archive.NewMessage(archive.SenderUser, "b", now)
	if a.ID == b.ID {
		t.Fatal("ids collide")
	}
	if a.ID > b.ID {
		t.Fatalf("ids not time ordered: %s > %s", a.ID, b.ID)
	}
}

func TestLog_ResetReturnsOwnVersion(t *testing.T) {
	t.Parallel()

	l := archive.NewLog()
	l.Append(archive.NewMessage(archive.SenderUser, "a", time.Now()))

	var once bool
	l.OnChange(func(uint64) {
		if !once && l.Len() == 0 {
			once = true
			l.Append(archive.NewMessage(archive.SenderUser, "b", time.Now()))
		}
	})

	v := l.Reset()
	if v != 2 {
		t.Fatalf("Reset version = %d; want 2", v)
	}
	if got := l.Version(); got != 3 {
		t.Fatalf("Version = %d; want 3", got)
	}
}
