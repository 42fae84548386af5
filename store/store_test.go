package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mjl-/bstore"

	"github.com/kagami/dmail/dmail-"
	"github.com/kagami/dmail/sig"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	if err != nil {
		t.Helper()
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

func setup(t *testing.T) {
	t.Helper()
	Close()
	os.RemoveAll("../testdata/store/data")
	dmail.ConfigPath = filepath.Join("..", "testdata", "store", "dmail.conf")
	dmail.MustLoadConfig()
	err := Init(ctxbg)
	tcheck(t, err, "store init")
	t.Cleanup(func() {
		err := Close()
		tcheck(t, err, "closing db")
	})
}

// Insert a message pair directly, like a delivered split send.
func deliverPair(t *testing.T, from, to User, title, body string) (sent, received Message) {
	t.Helper()
	err := DB.Write(ctxbg, func(tx *bstore.Tx) error {
		m := Message{FromID: from.ID, ToID: to.ID, Title: title, Body: body}
		sent = m
		sent.OwnerID = from.ID
		sent.IsRead = true
		if err := tx.Insert(&sent); err != nil {
			return err
		}
		received = m
		received.OwnerID = to.ID
		if err := tx.Insert(&received); err != nil {
			return err
		}
		return AdjustUnread(tx, to.ID, 1)
	})
	tcheck(t, err, "inserting message pair")
	return
}

func TestUsers(t *testing.T) {
	setup(t)

	mjl, err := UserAdd(ctxbg, "Mjl")
	tcheck(t, err, "adding user")
	if mjl.ID == 0 {
		t.Fatalf("user without id after add")
	}

	_, err = UserAdd(ctxbg, "mJL")
	if err == nil {
		t.Fatalf("adding user with same normalized name did not fail")
	}

	u, err := UserID(ctxbg, mjl.ID)
	tcheck(t, err, "user by id")
	tcompare(t, u.Name, "Mjl")

	err = DB.Read(ctxbg, func(tx *bstore.Tx) error {
		u, err := UserByName(tx, "  MJL ")
		tcheck(t, err, "user by name")
		tcompare(t, u.ID, mjl.ID)

		_, err = UserByName(tx, "nobody")
		if !errors.Is(err, ErrUserAbsent) {
			t.Fatalf("lookup of absent user, got %v, expected ErrUserAbsent", err)
		}

		sys, err := SystemUser(tx)
		tcheck(t, err, "system user")
		tcompare(t, sys.Name, "System")
		tcompare(t, sys.IsSystem, true)
		return nil
	})
	tcheck(t, err, "read tx")
}

func TestVisibility(t *testing.T) {
	setup(t)

	alice, err := UserAdd(ctxbg, "alice")
	tcheck(t, err, "adding user")
	bob, err := UserAdd(ctxbg, "bob")
	tcheck(t, err, "adding user")
	eve, err := UserAdd(ctxbg, "eve")
	tcheck(t, err, "adding user")

	_, received := deliverPair(t, alice, bob, "hello", "hi bob")

	key := sig.Key("test-capability-key")

	_, err = VisibleMessage(ctxbg, received.ID, bob.ID, "", nil)
	tcheck(t, err, "owner view")

	_, err = VisibleMessage(ctxbg, received.ID, eve.ID, "", nil)
	if err != ErrPrivilege {
		t.Fatalf("non-participant view, got %v, expected ErrPrivilege", err)
	}

	// Sender does not own the recipient's copy.
	_, err = VisibleMessage(ctxbg, received.ID, alice.ID, "", nil)
	if err != ErrPrivilege {
		t.Fatalf("sender view of recipient copy, got %v, expected ErrPrivilege", err)
	}

	// A capability token for the recipient opens the message without a viewer.
	_, err = VisibleMessage(ctxbg, received.ID, 0, key.Generate(bob.ID), key)
	tcheck(t, err, "capability view")

	// A token for another user does not.
	_, err = VisibleMessage(ctxbg, received.ID, 0, key.Generate(eve.ID), key)
	if err != ErrPrivilege {
		t.Fatalf("wrong capability view, got %v, expected ErrPrivilege", err)
	}
}

func TestResponse(t *testing.T) {
	m := Message{FromID: 1, ToID: 2, Title: "question", Body: "how?"}

	r := m.Response(false)
	tcompare(t, r.FromID, int64(2))
	tcompare(t, r.ToID, int64(1))
	tcompare(t, r.Title, "Re: question")
	tcompare(t, r.Body, "")

	f := m.Response(true)
	tcompare(t, f.Body, "[quote]\nhow?\n[/quote]\n\n")

	// Replying to a reply stacks prefixes.
	r.Body = "like this"
	rr := r.Response(false)
	tcompare(t, rr.Title, "Re: Re: question")
}

func TestFlags(t *testing.T) {
	setup(t)

	alice, err := UserAdd(ctxbg, "alice")
	tcheck(t, err, "adding user")
	bob, err := UserAdd(ctxbg, "bob")
	tcheck(t, err, "adding user")

	_, received := deliverPair(t, alice, bob, "hello", "hi bob")

	xtrue := true
	xfalse := false

	_, err = UpdateFlags(ctxbg, received.ID, alice.ID, Flags{IsRead: &xtrue})
	if err != ErrPrivilege {
		t.Fatalf("update by non-owner, got %v, expected ErrPrivilege", err)
	}

	n, err := UnreadCount(ctxbg, bob.ID)
	tcheck(t, err, "unread count")
	tcompare(t, n, 1)

	m, err := UpdateFlags(ctxbg, received.ID, bob.ID, Flags{IsRead: &xtrue})
	tcheck(t, err, "marking read")
	tcompare(t, m.IsRead, true)
	n, err = UnreadCount(ctxbg, bob.ID)
	tcheck(t, err, "unread count")
	tcompare(t, n, 0)

	// Unmarking read is allowed and restores the unread count.
	m, err = UpdateFlags(ctxbg, received.ID, bob.ID, Flags{IsRead: &xfalse})
	tcheck(t, err, "unmarking read")
	tcompare(t, m.IsRead, false)
	n, err = UnreadCount(ctxbg, bob.ID)
	tcheck(t, err, "unread count")
	tcompare(t, n, 1)

	// Deleting hides the copy from the unread count, restoring brings it back.
	m, err = UpdateFlags(ctxbg, received.ID, bob.ID, Flags{IsDeleted: &xtrue})
	tcheck(t, err, "deleting")
	tcompare(t, m.IsDeleted, true)
	n, err = UnreadCount(ctxbg, bob.ID)
	tcheck(t, err, "unread count")
	tcompare(t, n, 0)

	m, err = UpdateFlags(ctxbg, received.ID, bob.ID, Flags{IsDeleted: &xfalse})
	tcheck(t, err, "restoring")
	tcompare(t, m.IsDeleted, false)
	n, err = UnreadCount(ctxbg, bob.ID)
	tcheck(t, err, "unread count")
	tcompare(t, n, 1)

	// The cached count follows.
	u, err := UserID(ctxbg, bob.ID)
	tcheck(t, err, "user by id")
	tcompare(t, u.UnreadDmails, int64(1))

	m, err = MarkRead(ctxbg, received.ID)
	tcheck(t, err, "mark read")
	tcompare(t, m.IsRead, true)
	// Again is a no-op.
	m, err = MarkRead(ctxbg, received.ID)
	tcheck(t, err, "mark read again")
	tcompare(t, m.IsRead, true)
	n, err = UnreadCount(ctxbg, bob.ID)
	tcheck(t, err, "unread count")
	tcompare(t, n, 0)
}

func TestReadState(t *testing.T) {
	setup(t)

	alice, err := UserAdd(ctxbg, "alice")
	tcheck(t, err, "adding user")
	bob, err := UserAdd(ctxbg, "bob")
	tcheck(t, err, "adding user")

	_, r1 := deliverPair(t, alice, bob, "one", "first")
	_, r2 := deliverPair(t, alice, bob, "two", "second")

	n, err := UnreadCount(ctxbg, bob.ID)
	tcheck(t, err, "unread count")
	tcompare(t, n, 2)

	latest, err := LatestUnread(ctxbg, bob.ID)
	tcheck(t, err, "latest unread")
	tcompare(t, latest.ID, r2.ID)

	l, err := MarkAllRead(ctxbg, bob.ID)
	tcheck(t, err, "mark all read")
	if len(l) != 2 || l[0].ID != r1.ID || l[1].ID != r2.ID {
		t.Fatalf("mark all read returned %v, expected the two copies oldest first", l)
	}
	n, err = UnreadCount(ctxbg, bob.ID)
	tcheck(t, err, "unread count")
	tcompare(t, n, 0)
	u, err := UserID(ctxbg, bob.ID)
	tcheck(t, err, "user by id")
	tcompare(t, u.UnreadDmails, int64(0))

	_, err = LatestUnread(ctxbg, bob.ID)
	if err != bstore.ErrAbsent {
		t.Fatalf("latest unread without unread, got %v, expected ErrAbsent", err)
	}

	// Again is safe.
	l, err = MarkAllRead(ctxbg, bob.ID)
	tcheck(t, err, "mark all read again")
	tcompare(t, len(l), 0)
}

func TestSearch(t *testing.T) {
	setup(t)

	alice, err := UserAdd(ctxbg, "alice")
	tcheck(t, err, "adding user")
	bob, err := UserAdd(ctxbg, "bob")
	tcheck(t, err, "adding user")

	deliverPair(t, alice, bob, "Hello there", "a greeting")
	deliverPair(t, bob, alice, "Re: Hello there", "and one back")
	deliverPair(t, alice, bob, "moderation note", "about your uploads")

	search := func(q SearchQuery, exp int) []Message {
		t.Helper()
		l, err := Search(ctxbg, q)
		tcheck(t, err, "search")
		if len(l) != exp {
			t.Fatalf("search %+v returned %d messages, expected %d", q, len(l), exp)
		}
		return l
	}

	// Substring, case-insensitive.
	search(SearchQuery{OwnerID: bob.ID, TitleMatches: "hello"}, 2)
	// Anchored wildcard.
	search(SearchQuery{OwnerID: bob.ID, TitleMatches: "hello*"}, 1)
	search(SearchQuery{OwnerID: bob.ID, TitleMatches: "*hello*"}, 2)
	search(SearchQuery{OwnerID: bob.ID, TitleMatches: "re*there"}, 1)
	// Body matching.
	search(SearchQuery{OwnerID: bob.ID, MessageMatches: "uploads"}, 1)
	// Folders.
	search(SearchQuery{OwnerID: bob.ID, Folder: "received"}, 2)
	search(SearchQuery{OwnerID: bob.ID, Folder: "sent"}, 1)
	l := search(SearchQuery{OwnerID: bob.ID}, 3)
	// Newest first.
	if l[0].ID < l[1].ID || l[1].ID < l[2].ID {
		t.Fatalf("search results not newest first: %v", l)
	}

	// Deleted copies are not listed.
	xtrue := true
	_, err = UpdateFlags(ctxbg, l[0].ID, bob.ID, Flags{IsDeleted: &xtrue})
	tcheck(t, err, "deleting")
	search(SearchQuery{OwnerID: bob.ID}, 2)
}
