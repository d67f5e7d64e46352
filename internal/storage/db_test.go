package storage

import (
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndHistory(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, body := range []string{"hello", "how are you", "fine"} {
		err := db.Save(MessageRecord{
			ID:     string(rune('a' + i)),
			PeerID: "cust-1",
			Sender: "astro-1",
			Body:   body,
			SentAt: base.Add(time.Duration(i) * time.Minute),
			Status: "sent",
			Mine:   true,
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	// A message with another peer must not leak in.
	if err := db.Save(MessageRecord{ID: "x", PeerID: "cust-2", Sender: "cust-2", Body: "hi", SentAt: base}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := db.History("cust-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("history length = %d, want 3", len(got))
	}
	if got[0].Body != "hello" || got[2].Body != "fine" {
		t.Fatalf("history not oldest-first: %+v", got)
	}
	if !got[0].Mine {
		t.Fatal("mine flag lost")
	}
}

func TestHistoryLimitKeepsNewest(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := db.Save(MessageRecord{
			ID:     string(rune('a' + i)),
			PeerID: "cust-1",
			Sender: "cust-1",
			Body:   "m",
			SentAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	got, err := db.History("cust-1", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("history length = %d, want 2", len(got))
	}
	// The two newest, still oldest-first.
	if got[0].ID != "d" || got[1].ID != "e" {
		t.Fatalf("wrong slice kept: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestReconcileID(t *testing.T) {
	db := openTestDB(t)
	err := db.Save(MessageRecord{
		ID: "temp_123", PeerID: "cust-1", Sender: "astro-1",
		Body: "hi", SentAt: time.Now(), Status: "pending", Mine: true,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := db.ReconcileID("temp_123", "srv-9"); err != nil {
		t.Fatalf("ReconcileID: %v", err)
	}

	got, err := db.History("cust-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 1 || got[0].ID != "srv-9" || got[0].Status != "delivered" {
		t.Fatalf("after reconcile: %+v", got)
	}
}

func TestMarkPeerRead(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	db.Save(MessageRecord{ID: "m1", PeerID: "cust-1", Sender: "astro-1", Body: "a", SentAt: now, Status: "delivered", Mine: true})
	db.Save(MessageRecord{ID: "m2", PeerID: "cust-1", Sender: "cust-1", Body: "b", SentAt: now, Status: "sent"})

	if err := db.MarkPeerRead("cust-1"); err != nil {
		t.Fatalf("MarkPeerRead: %v", err)
	}
	got, _ := db.History("cust-1", 0)
	for _, m := range got {
		switch m.ID {
		case "m1":
			if m.Status != "read" {
				t.Fatalf("outbound status = %s, want read", m.Status)
			}
		case "m2":
			if m.Status != "sent" {
				t.Fatalf("inbound status changed: %s", m.Status)
			}
		}
	}
}

func TestPruneBefore(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	db.Save(MessageRecord{ID: "old", PeerID: "cust-1", Sender: "cust-1", Body: "a", SentAt: base.AddDate(0, -2, 0)})
	db.Save(MessageRecord{ID: "new", PeerID: "cust-1", Sender: "cust-1", Body: "b", SentAt: base})

	n, err := db.PruneBefore(base.AddDate(0, -1, 0))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	got, _ := db.History("cust-1", 0)
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("after prune: %+v", got)
	}
}
