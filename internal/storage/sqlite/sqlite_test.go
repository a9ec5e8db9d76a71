package sqlite

import "testing"

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRosterRoundTrip(t *testing.T) {
	db := newTestDB(t)

	entries := []RosterEntry{
		{UID: 2000, Name: "Bob", Icon: "https://cdn.example.com/b.jpg", AvatarToken: "t1", Friendship: "are-friends", Active: true},
		{UID: 3000, Name: "Carol", Friendship: "not-friends"},
	}
	if err := db.SaveRoster("alice@example.com", entries); err != nil {
		t.Fatalf("SaveRoster failed: %v", err)
	}

	got, err := db.GetRoster("alice@example.com")
	if err != nil {
		t.Fatalf("GetRoster failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Name != "Bob" || got[0].AvatarToken != "t1" || !got[0].Active {
		t.Fatalf("first entry = %+v", got[0])
	}

	// Saving again replaces, never appends.
	if err := db.SaveRoster("alice@example.com", entries[:1]); err != nil {
		t.Fatalf("SaveRoster failed: %v", err)
	}
	got, err = db.GetRoster("alice@example.com")
	if err != nil {
		t.Fatalf("GetRoster failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries after replace, want 1", len(got))
	}
}

func TestRosterPerAccount(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveRoster("alice@example.com", []RosterEntry{{UID: 1, Friendship: "are-friends"}}); err != nil {
		t.Fatalf("SaveRoster failed: %v", err)
	}
	if err := db.SaveRoster("bob@example.com", []RosterEntry{{UID: 2, Friendship: "are-friends"}}); err != nil {
		t.Fatalf("SaveRoster failed: %v", err)
	}

	alice, err := db.GetRoster("alice@example.com")
	if err != nil {
		t.Fatalf("GetRoster failed: %v", err)
	}
	if len(alice) != 1 || alice[0].UID != 1 {
		t.Fatalf("alice roster = %+v", alice)
	}
}

func TestAvatarCache(t *testing.T) {
	db := newTestDB(t)

	in := Avatar{UID: 2000, Token: "t1", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	if err := db.SaveAvatar("alice@example.com", in); err != nil {
		t.Fatalf("SaveAvatar failed: %v", err)
	}

	out, err := db.GetAvatar("alice@example.com", 2000)
	if err != nil {
		t.Fatalf("GetAvatar failed: %v", err)
	}
	if out == nil || out.Token != "t1" || len(out.Data) != 2 {
		t.Fatalf("avatar = %+v", out)
	}

	missing, err := db.GetAvatar("alice@example.com", 9999)
	if err != nil {
		t.Fatalf("GetAvatar failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown uid, got %+v", missing)
	}
}

func TestConnectionLog(t *testing.T) {
	db := newTestDB(t)

	if err := db.LogConnectionStatus("alice@example.com", "connected", ""); err != nil {
		t.Fatalf("LogConnectionStatus failed: %v", err)
	}
	if err := db.LogConnectionStatus("alice@example.com", "disconnected", "network-error"); err != nil {
		t.Fatalf("LogConnectionStatus failed: %v", err)
	}

	records, err := db.GetConnectionLog("alice@example.com", 10)
	if err != nil {
		t.Fatalf("GetConnectionLog failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Status != "disconnected" || records[0].Reason != "network-error" {
		t.Fatalf("newest record = %+v", records[0])
	}
}
