package webdmail

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mjl-/sherpa"

	"github.com/kagami/dmail/deliver"
	"github.com/kagami/dmail/dmail-"
	"github.com/kagami/dmail/mlog"
	"github.com/kagami/dmail/store"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	if err != nil {
		t.Helper()
		t.Fatalf("%s: %s", msg, err)
	}
}

func setup(t *testing.T) {
	t.Helper()
	store.Close()
	os.RemoveAll("../testdata/webdmail/data")
	dmail.ConfigPath = filepath.Join("..", "testdata", "webdmail", "dmail.conf")
	dmail.MustLoadConfig()
	err := store.Init(ctxbg)
	tcheck(t, err, "store init")
	deliver.Init()
	deliver.SendLimiter = nil
	deliver.Notify = func(ctx context.Context, log *mlog.Log, n deliver.Notification) {}
	t.Cleanup(func() {
		err := store.Close()
		tcheck(t, err, "closing db")
	})
}

// Expect a sherpa error with the given code prefix, e.g. "user:".
func texpect(t *testing.T, codePrefix string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		x := recover()
		if x == nil {
			t.Fatalf("expected sherpa error with code %q, got no panic", codePrefix)
		}
		err, ok := x.(*sherpa.Error)
		if !ok || !strings.HasPrefix(err.Code, codePrefix) {
			t.Fatalf("expected sherpa error with code %q, got %v", codePrefix, x)
		}
	}()
	fn()
}

func TestAPI(t *testing.T) {
	setup(t)
	api := Dmail{}

	alice := api.UserAdd(ctxbg, "alice")
	bob := api.UserAdd(ctxbg, "bob")

	// Send and read back.
	res := api.Send(ctxbg, alice.ID, "bob", "hello", "hello")
	if len(res.Errors) != 0 {
		t.Fatalf("send errors %v", res.Errors)
	}
	if res.Sent.OwnerID != alice.ID || res.Received.OwnerID != bob.ID {
		t.Fatalf("send result owners wrong: %+v", res)
	}

	if n := api.UnreadCount(ctxbg, bob.ID); n != 1 {
		t.Fatalf("unread count %d, expected 1", n)
	}
	latest := api.LatestUnread(ctxbg, bob.ID)
	if latest == nil || latest.ID != res.Received.ID {
		t.Fatalf("latest unread %v, expected the received copy", latest)
	}

	// Opening with markRead clears the unread state.
	m := api.Message(ctxbg, res.Received.ID, bob.ID, "", true)
	if !m.IsRead {
		t.Fatalf("message not marked read on open")
	}
	if n := api.UnreadCount(ctxbg, bob.ID); n != 0 {
		t.Fatalf("unread count %d after open, expected 0", n)
	}
	if api.LatestUnread(ctxbg, bob.ID) != nil {
		t.Fatalf("latest unread after open, expected null")
	}

	// Other users cannot open the copy.
	texpect(t, "user:", func() {
		api.Message(ctxbg, res.Received.ID, alice.ID, "", false)
	})

	// A capability token opens it without a viewer.
	token := api.Sign(ctxbg, bob.ID)
	m = api.Message(ctxbg, res.Received.ID, 0, token, false)
	if m.ID != res.Received.ID {
		t.Fatalf("capability open returned wrong message")
	}
	texpect(t, "user:", func() {
		api.Message(ctxbg, res.Received.ID, 0, api.Sign(ctxbg, alice.ID), false)
	})

	// Reply draft swaps participants and prefixes the title.
	draft := api.Reply(ctxbg, res.Received.ID, bob.ID, false)
	if draft.FromID != bob.ID || draft.ToID != alice.ID || draft.Title != "Re: hello" {
		t.Fatalf("unexpected reply draft %+v", draft)
	}

	// Update flags, owner only.
	xtrue := true
	m = api.Update(ctxbg, res.Received.ID, bob.ID, nil, nil, &xtrue)
	if !m.IsDeleted {
		t.Fatalf("message not deleted after update")
	}
	texpect(t, "user:", func() {
		api.Update(ctxbg, res.Sent.ID, bob.ID, nil, nil, &xtrue)
	})

	// Validation failures come back in the result, not as an error.
	res = api.Send(ctxbg, alice.ID, "nobody", "hi", "hi")
	if len(res.Errors["to"]) == 0 || res.Errors["to"][0] != "must exist" {
		t.Fatalf("send to unknown name, errors %v", res.Errors)
	}

	// Automated send through the API.
	res = api.Automated(ctxbg, "alice", "notice", "something happened")
	if len(res.Errors) != 0 || res.Received.OwnerID != alice.ID {
		t.Fatalf("automated send result %+v", res)
	}
	res = api.Automated(ctxbg, "nobody", "notice", "something happened")
	if len(res.Errors["to"]) == 0 {
		t.Fatalf("automated send to unknown name, errors %v", res.Errors)
	}
}

func TestMarkAllReadAndSearch(t *testing.T) {
	setup(t)
	api := Dmail{}

	alice := api.UserAdd(ctxbg, "alice")
	bob := api.UserAdd(ctxbg, "bob")

	api.Send(ctxbg, alice.ID, "bob", "Hello there", "a greeting")
	api.Send(ctxbg, alice.ID, "bob", "more news", "other text")

	l := api.MarkAllRead(ctxbg, bob.ID)
	if len(l) != 2 {
		t.Fatalf("mark all read affected %d messages, expected 2", len(l))
	}
	if n := api.UnreadCount(ctxbg, bob.ID); n != 0 {
		t.Fatalf("unread count %d after mark all read, expected 0", n)
	}

	if l := api.Search(ctxbg, bob.ID, "received", "hello*", ""); len(l) != 1 {
		t.Fatalf("search returned %d messages, expected 1", len(l))
	}
	if l := api.Search(ctxbg, bob.ID, "sent", "", ""); len(l) != 0 {
		t.Fatalf("search of empty folder returned %d messages", len(l))
	}
}

func TestPreview(t *testing.T) {
	setup(t)
	api := Dmail{}
	html := api.Preview(ctxbg, "some *emphasis* here")
	if !strings.Contains(html, "<em>emphasis</em>") {
		t.Fatalf("preview did not render markup: %q", html)
	}
}
