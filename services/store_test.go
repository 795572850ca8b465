package services

import (
	"testing"
	"time"
)

func TestCreateDuplicateChannel(t *testing.T) {
	st := NewStore(time.Minute, time.Minute)

	if _, err := st.Create("c1", "9999", "en", "browser"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := st.Create("c1", "8888", "en", "browser"); err != ErrDuplicateSession {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestChannelFreedAfterRemove(t *testing.T) {
	st := NewStore(time.Minute, time.Minute)

	sess, err := st.Create("c1", "9999", "en", "browser")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	st.Remove(sess.SessionID)
	if _, err := st.Create("c1", "9999", "en", "browser"); err != nil {
		t.Fatalf("create after remove: %v", err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	st := NewStore(time.Minute, time.Minute)

	sess, err := st.Create("c1", "9999", "en", "browser")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	st.Remove(sess.SessionID)
	st.Remove(sess.SessionID)
	st.Remove("never-existed")

	if st.Len() != 0 {
		t.Fatalf("expected empty store, got %d sessions", st.Len())
	}
}

func TestGetUnknownSession(t *testing.T) {
	st := NewStore(time.Minute, time.Minute)
	if _, err := st.Get("nope"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := st.GetByChannel("nope"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListActive(t *testing.T) {
	st := NewStore(time.Minute, time.Minute)

	a, _ := st.Create("c1", "9999", "en", "browser")
	b, _ := st.Create("c2", "8888", "hi", "browser")

	summaries := st.ListActive()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	seen := map[string]bool{}
	for _, s := range summaries {
		seen[s.SessionID] = true
	}
	if !seen[a.SessionID] || !seen[b.SessionID] {
		t.Fatalf("summaries missing a session: %v", seen)
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	st := NewStore(10*time.Millisecond, time.Minute)

	var expired []string
	st.OnExpire(func(sess *Session) {
		expired = append(expired, sess.SessionID)
	})

	sess, _ := st.Create("c1", "9999", "en", "browser")
	time.Sleep(25 * time.Millisecond)
	st.Sweep()

	if _, err := st.Get(sess.SessionID); err != ErrSessionNotFound {
		t.Fatalf("expected evicted session, got err=%v", err)
	}
	if len(st.ListActive()) != 0 {
		t.Fatalf("evicted session still listed")
	}
	if len(expired) != 1 || expired[0] != sess.SessionID {
		t.Fatalf("expiry handler not invoked: %v", expired)
	}
}

func TestSweepSkipsSessionsInTurn(t *testing.T) {
	st := NewStore(10*time.Millisecond, time.Minute)

	sess, _ := st.Create("c1", "9999", "en", "browser")
	time.Sleep(25 * time.Millisecond)

	sess.LockTurn()
	st.Sweep()
	if _, err := st.Get(sess.SessionID); err != nil {
		t.Fatalf("mid-turn session must not be evicted: %v", err)
	}
	sess.UnlockTurn()

	st.Sweep()
	if _, err := st.Get(sess.SessionID); err != ErrSessionNotFound {
		t.Fatalf("expected eviction after turn finished, got %v", err)
	}
}

func TestFreshActivityBlocksEviction(t *testing.T) {
	st := NewStore(50*time.Millisecond, time.Minute)

	sess, _ := st.Create("c1", "9999", "en", "browser")
	time.Sleep(30 * time.Millisecond)
	sess.Touch()
	st.Sweep()

	if _, err := st.Get(sess.SessionID); err != nil {
		t.Fatalf("recently active session evicted: %v", err)
	}
}

func TestTranscriptDeduplicatesRepeats(t *testing.T) {
	st := NewStore(time.Minute, time.Minute)
	sess, _ := st.Create("c1", "9999", "en", "browser")

	sess.AppendTranscript("caller", "hello")
	sess.AppendTranscript("caller", "hello")
	sess.AppendTranscript("agent", "hello")

	if got := len(sess.TranscriptCopy()); got != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", got)
	}
}
