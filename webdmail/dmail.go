// Package webdmail provides the JSON API of the dmail engine, for the
// platform frontend to call. Authentication of end users is the platform's
// job; callers pass the acting user id.
package webdmail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/mjl-/bstore"
	"github.com/mjl-/sherpa"
	"github.com/mjl-/sherpaprom"
	"github.com/russross/blackfriday/v2"

	"github.com/kagami/dmail/abuse"
	"github.com/kagami/dmail/deliver"
	"github.com/kagami/dmail/dmail-"
	"github.com/kagami/dmail/dmailvar"
	"github.com/kagami/dmail/metrics"
	"github.com/kagami/dmail/mlog"
	"github.com/kagami/dmail/sig"
	"github.com/kagami/dmail/store"
)

var xlog = mlog.New("webdmail")

var dmailSherpaHandler http.Handler

func init() {
	collector, err := sherpaprom.NewCollector("dmail", nil)
	if err != nil {
		xlog.Fatalx("creating sherpa prometheus collector", err)
	}

	dmailSherpaHandler, err = sherpa.NewHandler("/api/", dmailvar.Version, Dmail{}, &apiDoc, &sherpa.HandlerOpts{Collector: collector, AdjustFunctionNames: "none"})
	if err != nil {
		xlog.Fatalx("sherpa handler", err)
	}
}

func xcheckf(ctx context.Context, err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	errmsg := fmt.Sprintf("%s: %s", msg, err)
	xlog.WithContext(ctx).Errorx(msg, err)
	panic(&sherpa.Error{Code: "server:error", Message: errmsg})
}

func xcheckuserf(ctx context.Context, err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	errmsg := fmt.Sprintf("%s: %s", msg, err)
	xlog.WithContext(ctx).Debugx(msg, err)
	panic(&sherpa.Error{Code: "user:error", Message: errmsg})
}

type ctxKey string

var remoteIPCtxKey ctxKey = "remoteIP"

// Handler returns the http handler for the API, at /api/. It assigns a cid
// for logging and records the remote IP for send rate limiting.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), mlog.CidKey, dmail.Cid())
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ctx = context.WithValue(ctx, remoteIPCtxKey, host)
		}
		defer func() {
			x := recover()
			if x == nil {
				return
			}
			metrics.PanicInc("webdmail")
			xlog.WithContext(ctx).Error("unhandled panic", mlog.Field("panic", x))
			http.Error(w, "500 - internal error", http.StatusInternalServerError)
		}()
		dmailSherpaHandler.ServeHTTP(w, r.WithContext(ctx))
	})
}

func remoteIP(ctx context.Context) string {
	s, _ := ctx.Value(remoteIPCtxKey).(string)
	return s
}

func capKey() sig.Key {
	return sig.Key(dmail.Conf.CapabilityKey)
}

// Dmail exports the web API functions for the dmail engine. All its methods
// are exported under /api/.
type Dmail struct{}

// SendResult is the outcome of a send attempt. On success Received (and for
// split sends Sent) hold the stored copies. On validation failure Errors
// holds the failures per field and no copies were stored, except that
// automated sends return the unsaved draft in Received.
type SendResult struct {
	Sent     store.Message
	Received store.Message
	Errors   map[string][]string
}

// Send delivers a message from user fromID to the user with display name to,
// storing both the sender's and the recipient's copy.
func (Dmail) Send(ctx context.Context, fromID int64, to, title, body string) SendResult {
	log := xlog.WithContext(ctx)
	req := deliver.Request{FromID: fromID, ToName: to, Title: title, Body: body, CreatorIP: remoteIP(ctx)}
	sent, received, err := deliver.Split(ctx, log, req)
	var verrs deliver.Errors
	if errors.As(err, &verrs) {
		return SendResult{Errors: verrs}
	}
	xcheckf(ctx, err, "sending message")
	return SendResult{Sent: sent, Received: received}
}

// Automated delivers a message from the system user, storing only the
// recipient's copy.
func (Dmail) Automated(ctx context.Context, to, title, body string) SendResult {
	log := xlog.WithContext(ctx)
	req := deliver.Request{ToName: to, Title: title, Body: body, CreatorIP: remoteIP(ctx)}
	received, err := deliver.Automated(ctx, log, req)
	var verrs deliver.Errors
	if errors.As(err, &verrs) {
		return SendResult{Received: received, Errors: verrs}
	}
	xcheckf(ctx, err, "sending automated message")
	return SendResult{Received: received}
}

// Message returns a message copy. The viewer must own the copy, or key must
// be a capability token that verifies against the recipient. With markRead,
// an unread message is marked read on this open, adjusting the owner's
// unread count.
func (Dmail) Message(ctx context.Context, id, viewer int64, key string, markRead bool) store.Message {
	k := capKey()
	m, err := store.VisibleMessage(ctx, id, viewer, key, k)
	if err == store.ErrPrivilege || err == bstore.ErrAbsent {
		xcheckuserf(ctx, err, "fetching message")
	}
	xcheckf(ctx, err, "fetching message")
	if markRead && !m.IsRead {
		m, err = store.MarkRead(ctx, id)
		xcheckf(ctx, err, "marking message read")
	}
	return m
}

// Reply returns an unsaved response draft for a message the viewer owns:
// participants swapped and the title prefixed. With forward, the body quotes
// the original. Submit the draft through Send to deliver it.
func (Dmail) Reply(ctx context.Context, id, viewer int64, forward bool) store.Message {
	m, err := store.VisibleMessage(ctx, id, viewer, "", nil)
	if err == store.ErrPrivilege || err == bstore.ErrAbsent {
		xcheckuserf(ctx, err, "fetching message")
	}
	xcheckf(ctx, err, "fetching message")
	return m.Response(forward)
}

// Update changes flags on a message copy owned by actor. Nil leaves a flag
// unchanged. Restoring a deleted copy or unmarking read is allowed.
func (Dmail) Update(ctx context.Context, id, actor int64, isRead, isSpam, isDeleted *bool) store.Message {
	m, err := store.UpdateFlags(ctx, id, actor, store.Flags{IsRead: isRead, IsSpam: isSpam, IsDeleted: isDeleted})
	if err == store.ErrPrivilege || err == bstore.ErrAbsent {
		xcheckuserf(ctx, err, "updating message")
	}
	xcheckf(ctx, err, "updating message")
	return m
}

// MarkAllRead marks all unread messages of the user as read, returning the
// affected messages, oldest first.
func (Dmail) MarkAllRead(ctx context.Context, userID int64) []store.Message {
	l, err := store.MarkAllRead(ctx, userID)
	xcheckf(ctx, err, "marking all read")
	if l == nil {
		l = []store.Message{}
	}
	return l
}

// UnreadCount returns the number of active unread messages owned by the user.
func (Dmail) UnreadCount(ctx context.Context, userID int64) int64 {
	n, err := store.UnreadCount(ctx, userID)
	xcheckf(ctx, err, "counting unread messages")
	return int64(n)
}

// LatestUnread returns the most recent unread message of the user, or null.
func (Dmail) LatestUnread(ctx context.Context, userID int64) *store.Message {
	m, err := store.LatestUnread(ctx, userID)
	if err == bstore.ErrAbsent {
		return nil
	}
	xcheckf(ctx, err, "fetching latest unread message")
	return &m
}

// Search returns the user's active messages matching the filters, newest
// first. Folder is "received", "sent" or empty for both. The match strings
// filter on title and on title or body; "*" in a pattern is a wildcard,
// matching is case-insensitive.
func (Dmail) Search(ctx context.Context, userID int64, folder, titleMatches, messageMatches string) []store.Message {
	q := store.SearchQuery{OwnerID: userID, Folder: folder, TitleMatches: titleMatches, MessageMatches: messageMatches}
	l, err := store.Search(ctx, q)
	xcheckf(ctx, err, "searching messages")
	if l == nil {
		l = []store.Message{}
	}
	return l
}

// Preview renders a message body draft to HTML, as it would be displayed.
func (Dmail) Preview(ctx context.Context, body string) string {
	return string(blackfriday.Run([]byte(body)))
}

// Sign returns a capability token bound to the user. A holder of the token
// can read messages delivered to that user without logging in, e.g. through
// a link in a notification email. Tokens do not expire.
func (Dmail) Sign(ctx context.Context, userID int64) string {
	return capKey().Generate(userID)
}

// UserAdd creates a user with the given display name.
func (Dmail) UserAdd(ctx context.Context, name string) store.User {
	u, err := store.UserAdd(ctx, name)
	xcheckf(ctx, err, "adding user")
	return u
}

// IsSpammer reports whether the user's distinct spam recipient count has
// reached the autoban threshold.
func (Dmail) IsSpammer(ctx context.Context, userID int64) bool {
	v, err := abuse.IsSpammer(ctx, userID)
	xcheckf(ctx, err, "evaluating sender")
	return v
}
