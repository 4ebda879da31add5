package collab

import (
	"reflect"
	"testing"

	"notesync/internal/app/user"
	"notesync/internal/pkg/ident"
)

var (
	alice = user.User{ID: "1", Username: "Alice"}
	bob   = user.User{ID: "2", Username: "Bob"}
	carol = user.User{ID: "3", Username: "Carol"}
)

func TestRegistryJoinSnapshotExcludesJoiner(t *testing.T) {
	r := NewRegistry()

	first := r.Join("42", "a", alice, ColorFor(alice.ID))
	if len(first.Snapshot) != 0 || len(first.Recipients) != 0 {
		t.Fatalf("first joiner got snapshot %v recipients %v", first.Snapshot, first.Recipients)
	}

	second := r.Join("42", "b", bob, ColorFor(bob.ID))
	if len(second.Snapshot) != 1 || second.Snapshot[0].UserID != alice.ID {
		t.Fatalf("second joiner snapshot = %v", second.Snapshot)
	}
	if !reflect.DeepEqual(second.Recipients, []ConnID{"a"}) {
		t.Fatalf("recipients = %v", second.Recipients)
	}
	if second.Entry.Color != ColorFor(bob.ID) || second.Entry.ConnectionID != "b" {
		t.Fatalf("entry = %+v", second.Entry)
	}
}

func TestRegistryRejoinDoesNotDuplicate(t *testing.T) {
	r := NewRegistry()
	r.Join("42", "a", alice, ColorFor(alice.ID))
	r.Join("42", "b", bob, ColorFor(bob.ID))

	again := r.Join("42", "a", user.User{ID: "1", Username: "Alice B."}, ColorFor(alice.ID))
	if !again.Rejoined || len(again.Recipients) != 0 {
		t.Fatalf("rejoin = %+v", again)
	}

	entries := r.Entries("42")
	if len(entries) != 2 {
		t.Fatalf("entries = %v", entries)
	}
	if entries[0].ConnectionID != "a" || entries[0].Username != "Alice B." {
		t.Errorf("rejoin should refresh in place, got %+v", entries[0])
	}
}

func TestRegistryLeave(t *testing.T) {
	r := NewRegistry()
	r.Join("42", "a", alice, ColorFor(alice.ID))
	r.Join("42", "b", bob, ColorFor(bob.ID))

	dep, ok := r.Leave("42", "b")
	if !ok {
		t.Fatal("Leave reported not a member")
	}
	if dep.Entry.UserID != bob.ID || !reflect.DeepEqual(dep.Remaining, []ConnID{"a"}) || dep.UserRemains {
		t.Fatalf("departure = %+v", dep)
	}

	if _, ok := r.Leave("42", "b"); ok {
		t.Error("second Leave should be a no-op")
	}
	if _, ok := r.Leave("nope", "a"); ok {
		t.Error("Leave on unknown note should be a no-op")
	}

	r.Leave("42", "a")
	if rooms := r.Rooms(); len(rooms) != 0 {
		t.Errorf("empty room not pruned: %v", rooms)
	}
}

func TestRegistryRemoveConnection(t *testing.T) {
	r := NewRegistry()
	for _, note := range []ident.ID{"10", "20", "30"} {
		r.Join(note, "a", alice, ColorFor(alice.ID))
		r.Join(note, "b", bob, ColorFor(bob.ID))
	}
	r.Join("20", "a2", alice, ColorFor(alice.ID))

	deps := r.RemoveConnection("a")
	if len(deps) != 3 {
		t.Fatalf("got %d departures, want 3", len(deps))
	}
	for i, want := range []ident.ID{"10", "20", "30"} {
		if deps[i].NoteID != want {
			t.Errorf("departure %d note = %s, want %s", i, deps[i].NoteID, want)
		}
	}
	if !deps[1].UserRemains {
		t.Error("alice still has a2 in note 20")
	}
	if deps[0].UserRemains || deps[2].UserRemains {
		t.Error("alice has no other connection in notes 10 and 30")
	}

	for _, note := range r.Rooms() {
		if r.IsMember(note, "a") {
			t.Errorf("connection a still in %s", note)
		}
	}
	if rooms := r.RoomsOf("a"); len(rooms) != 0 {
		t.Errorf("reverse index not cleared: %v", rooms)
	}
	if deps := r.RemoveConnection("a"); len(deps) != 0 {
		t.Errorf("second RemoveConnection = %v", deps)
	}
}

func TestRegistryMembershipMatchesOperations(t *testing.T) {
	r := NewRegistry()
	want := map[ConnID]bool{}

	ops := []struct {
		op   string
		conn ConnID
	}{
		{"join", "a"}, {"join", "b"}, {"join", "c"}, {"leave", "b"},
		{"join", "b"}, {"remove", "a"}, {"join", "d"}, {"leave", "x"}, {"remove", "c"},
	}

	for _, o := range ops {
		switch o.op {
		case "join":
			r.Join("7", o.conn, carol, ColorFor(carol.ID))
			want[o.conn] = true
		case "leave":
			r.Leave("7", o.conn)
			delete(want, o.conn)
		case "remove":
			r.RemoveConnection(o.conn)
			delete(want, o.conn)
		}

		got := map[ConnID]bool{}
		for _, id := range r.Members("7") {
			got[id] = true
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("after %s %s: members %v, want %v", o.op, o.conn, got, want)
		}
	}
}

func TestRegistryOthersInRoom(t *testing.T) {
	r := NewRegistry()
	r.Join("42", "a", alice, ColorFor(alice.ID))
	r.Join("42", "b", bob, ColorFor(bob.ID))

	others, member := r.OthersInRoom("42", "b")
	if !member || !reflect.DeepEqual(others, []ConnID{"a"}) {
		t.Fatalf("OthersInRoom = %v, %v", others, member)
	}

	if others, member := r.OthersInRoom("42", "z"); member || others != nil {
		t.Fatalf("non-member got %v, %v", others, member)
	}
}

func TestRegistryHooksSeeTheRoomTheyChanged(t *testing.T) {
	r := NewRegistry()
	r.Join("42", "a", alice, ColorFor(alice.ID))

	var joined JoinResult
	res := r.JoinThen("42", "b", bob, ColorFor(bob.ID), func(jr JoinResult) {
		joined = jr
	})
	if !reflect.DeepEqual(joined, res) || !reflect.DeepEqual(res.Recipients, []ConnID{"a"}) {
		t.Fatalf("JoinThen hook got %+v, returned %+v", joined, res)
	}

	calls := 0
	count := func(Departure) { calls++ }
	if _, ok := r.LeaveThen("42", "z", count); ok || calls != 0 {
		t.Fatalf("LeaveThen for a non-member: ok=%v calls=%d", ok, calls)
	}
	if r.OthersInRoomThen("42", "z", func([]ConnID) { calls++ }) || calls != 0 {
		t.Fatalf("OthersInRoomThen ran for a non-member")
	}

	r.Join("43", "b", bob, ColorFor(bob.ID))
	var left []ident.ID
	r.RemoveConnectionThen("b", func(d Departure) { left = append(left, d.NoteID) })
	if !reflect.DeepEqual(left, []ident.ID{"42", "43"}) {
		t.Fatalf("RemoveConnectionThen hook saw %v", left)
	}
}

func TestUniqueUsers(t *testing.T) {
	entries := []PresenceEntry{
		{UserID: "1", ConnectionID: "a"},
		{UserID: "2", ConnectionID: "b"},
		{UserID: "1", ConnectionID: "c"},
	}

	got := UniqueUsers(entries)
	if len(got) != 2 || got[0].ConnectionID != "a" || got[1].ConnectionID != "b" {
		t.Fatalf("UniqueUsers = %v", got)
	}
}
