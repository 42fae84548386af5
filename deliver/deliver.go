/*
Package deliver implements sending of dmails.

A user-to-user send is a "split" send: one logical message is stored as two
copies, the sender's and the recipient's, inserted in a single transaction so
either both exist or neither does. Automated sends from the system user store
only the recipient's copy.

Spam classification happens during the send and flags both copies. After a
spam-flagged send commits, the abuse tracker re-evaluates the sender and may
ban them; that runs in its own transaction, a failure there never undoes the
delivered message.
*/
package deliver

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mjl-/bstore"

	"github.com/kagami/dmail/abuse"
	"github.com/kagami/dmail/dmail-"
	"github.com/kagami/dmail/junk"
	"github.com/kagami/dmail/mlog"
	"github.com/kagami/dmail/ratelimit"
	"github.com/kagami/dmail/store"
)

var (
	metricDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmail_deliver_total",
			Help: "Dmails delivered, per kind.",
		},
		[]string{"kind"}, // "split" or "automated".
	)
	metricSpam = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmail_deliver_spam_total",
			Help: "Delivered dmails that were classified as spam.",
		},
	)
	metricNotified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmail_deliver_notification_total",
			Help: "Notification events emitted for delivered dmails.",
		},
	)
)

// Classifier decides whether an outgoing message is spam. Replaced in tests.
// Set from the configuration by Init.
var Classifier junk.Classifier = junk.NewWordFilter(junk.Params{MinHits: 3, MaxLinks: 5})

// SendLimiter throttles sends per originating IP. Nil disables limiting.
var SendLimiter *ratelimit.Limiter

// Notification describes a delivered message for the recipient's
// notification channel.
type Notification struct {
	MessageID int64 // Recipient's copy.
	ToID      int64
	Title     string
}

// Notify is called at most once per send, after commit, when the recipient
// opted in to notifications. The default only logs and counts; the platform
// hooks in its mailer here.
var Notify = func(ctx context.Context, log *mlog.Log, n Notification) {
	metricNotified.Inc()
	log.Info("dmail notification", mlog.Field("msgid", n.MessageID), mlog.Field("to", n.ToID))
}

// Init configures the classifier and the send rate limiter from the loaded
// configuration. Called from serve after LoadConfig.
func Init() {
	Classifier = junk.NewWordFilter(junk.Params{
		Words:    dmail.Conf.SpamWords,
		MinHits:  dmail.Conf.SpamMinHits,
		MaxLinks: dmail.Conf.SpamMaxLinks,
	})
	if n := int64(dmail.Conf.SendsPerIPMinute); n > 0 {
		SendLimiter = &ratelimit.Limiter{
			WindowLimits: []ratelimit.WindowLimit{
				{Window: time.Minute, Limits: [...]int64{n, 2 * n, 4 * n}},
			},
		}
	} else {
		SendLimiter = nil
	}
}

// Request is a message submission. The recipient is ToID when nonzero,
// otherwise looked up by ToName. CreatorIP is the sender's network address,
// recorded on the stored copies and used for rate limiting.
type Request struct {
	FromID    int64
	ToID      int64
	ToName    string
	Title     string
	Body      string
	CreatorIP string
}

// Errors holds validation failures per field. The "from" and "to" keys carry
// participant problems, "title" and "body" content problems, "base"
// everything else.
type Errors map[string][]string

// Add appends a message for a field.
func (e Errors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Any returns whether any failure was recorded.
func (e Errors) Any() bool {
	return len(e) > 0
}

// Error returns the failures as one string, fields in sorted order.
func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var l []string
	for _, f := range fields {
		for _, msg := range e[f] {
			l = append(l, f+" "+msg)
		}
	}
	return "invalid send: " + strings.Join(l, "; ")
}

// Split validates and delivers a user-to-user message. On success two copies
// have been stored in one transaction: sent (owned by the sender, already
// read) and received (owned by the recipient, unread), sharing content and
// creation time. The recipient's cached unread count is incremented in the
// same transaction.
//
// Validation failures are returned as Errors and store nothing. A banned
// sender always fails validation.
func Split(ctx context.Context, log *mlog.Log, req Request) (sent, received store.Message, rerr error) {
	errs := Errors{}
	title := strings.TrimSpace(req.Title)
	body := strings.TrimSpace(req.Body)
	if title == "" {
		errs.Add("title", "can't be blank")
	}
	if body == "" {
		errs.Add("body", "can't be blank")
	}
	if SendLimiter != nil && req.CreatorIP != "" {
		if ip := net.ParseIP(req.CreatorIP); ip != nil && !SendLimiter.Add(ip, time.Now(), 1) {
			log.Info("dmail send rate limited", mlog.Field("ip", req.CreatorIP))
			errs.Add("base", "too many messages, wait a while before sending again")
		}
	}

	db, err := store.Database(ctx)
	if err != nil {
		return store.Message{}, store.Message{}, err
	}

	var from, to store.User
	var spam bool
	now := time.Now()
	err = db.Write(ctx, func(tx *bstore.Tx) error {
		from = store.User{ID: req.FromID}
		if req.FromID == 0 {
			errs.Add("from", "must exist")
		} else if err := tx.Get(&from); err == bstore.ErrAbsent {
			errs.Add("from", "must exist")
		} else if err != nil {
			return err
		}
		var err error
		to, err = resolveRecipient(tx, req)
		if errors.Is(err, store.ErrUserAbsent) {
			errs.Add("to", "must exist")
		} else if err != nil {
			return err
		}
		if from.ID != 0 && from.IsBanned && !from.IsSystem {
			errs.Add("from", "Sender is banned and cannot send messages")
		}
		if errs.Any() {
			return errs
		}

		m := store.Message{
			Created:   now,
			CreatorIP: req.CreatorIP,
			FromID:    from.ID,
			ToID:      to.ID,
			Title:     title,
			Body:      body,
		}
		if !from.IsSystem {
			spam = Classifier.Classify(log, m, from)
		}
		m.IsSpam = spam

		sent = m
		sent.OwnerID = from.ID
		sent.IsRead = true
		received = m
		received.OwnerID = to.ID
		if err := tx.Insert(&sent); err != nil {
			return err
		}
		if err := tx.Insert(&received); err != nil {
			return err
		}
		return store.AdjustUnread(tx, to.ID, 1)
	})
	if err != nil {
		var verrs Errors
		if errors.As(err, &verrs) {
			return store.Message{}, store.Message{}, verrs
		}
		return store.Message{}, store.Message{}, err
	}

	metricDelivered.With(prometheus.Labels{"kind": "split"}).Inc()
	log.Debug("dmail delivered", mlog.Field("from", from.ID), mlog.Field("to", to.ID), mlog.Field("spam", spam))
	if spam {
		metricSpam.Inc()
		if _, err := abuse.RecordSpamDelivery(ctx, log, from.ID); err != nil {
			// The send has committed; the next spam delivery re-evaluates.
			log.Errorx("evaluating sender after spam delivery", err, mlog.Field("from", from.ID))
		}
	}
	if to.ReceiveEmailNotifications {
		Notify(ctx, log, Notification{MessageID: received.ID, ToID: to.ID, Title: received.Title})
	}
	return sent, received, nil
}

// Automated delivers a message from the system user, storing only the
// recipient's copy. No spam classification, ban check or rate limiting
// applies. On validation failure the unsaved draft is returned along with
// Errors, so callers can log or inspect what was attempted.
func Automated(ctx context.Context, log *mlog.Log, req Request) (received store.Message, rerr error) {
	errs := Errors{}
	title := strings.TrimSpace(req.Title)
	body := strings.TrimSpace(req.Body)
	if title == "" {
		errs.Add("title", "can't be blank")
	}
	if body == "" {
		errs.Add("body", "can't be blank")
	}

	draft := store.Message{Title: title, Body: body, CreatorIP: req.CreatorIP}

	db, err := store.Database(ctx)
	if err != nil {
		return draft, err
	}

	var to store.User
	err = db.Write(ctx, func(tx *bstore.Tx) error {
		sys, err := store.SystemUser(tx)
		if err != nil {
			return err
		}
		draft.FromID = sys.ID
		to, err = resolveRecipient(tx, req)
		if errors.Is(err, store.ErrUserAbsent) {
			errs.Add("to", "must exist")
		} else if err != nil {
			return err
		}
		if errs.Any() {
			return errs
		}

		draft.ToID = to.ID
		draft.OwnerID = to.ID
		received = draft
		if err := tx.Insert(&received); err != nil {
			return err
		}
		return store.AdjustUnread(tx, to.ID, 1)
	})
	if err != nil {
		var verrs Errors
		if errors.As(err, &verrs) {
			log.Info("automated dmail not delivered", mlog.Field("to", req.ToName), mlog.Field("err", verrs))
			return draft, verrs
		}
		return draft, err
	}

	metricDelivered.With(prometheus.Labels{"kind": "automated"}).Inc()
	if to.ReceiveEmailNotifications {
		Notify(ctx, log, Notification{MessageID: received.ID, ToID: to.ID, Title: received.Title})
	}
	return received, nil
}

func resolveRecipient(tx *bstore.Tx, req Request) (store.User, error) {
	if req.ToID != 0 {
		u := store.User{ID: req.ToID}
		err := tx.Get(&u)
		if err == bstore.ErrAbsent {
			return store.User{}, store.ErrUserAbsent
		}
		return u, err
	}
	if strings.TrimSpace(req.ToName) == "" {
		return store.User{}, store.ErrUserAbsent
	}
	return store.UserByName(tx, req.ToName)
}
