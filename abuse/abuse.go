// Package abuse tracks spam deliveries per sender and escalates to an
// automatic account ban.
//
// The signal is the number of distinct recipients that received spam-flagged
// mail from a sender, derived by querying stored messages rather than kept as
// separate state. When that number first reaches AutobanThreshold, the sender
// is banned and exactly one Ban and one Feedback record are created.
// Escalation runs in a single write transaction that re-checks the ban flag,
// so concurrent spam deliveries crossing the threshold cannot create a second
// Ban/Feedback pair. Bans are never lifted here; manual moderation is outside
// this engine.
package abuse

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mjl-/bstore"

	"github.com/kagami/dmail/mlog"
	"github.com/kagami/dmail/store"
)

// AutobanThreshold is the number of distinct spam recipients at which a
// sender is banned.
const AutobanThreshold = 10

var metricAutoban = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "dmail_abuse_autoban_total",
		Help: "Number of automatic bans for spam senders.",
	},
)

// DistinctSpamRecipients returns the number of distinct users that received
// spam-flagged mail from the sender, over all time.
func DistinctSpamRecipients(tx *bstore.Tx, fromID int64) (int, error) {
	seen := map[int64]struct{}{}
	q := bstore.QueryTx[store.Message](tx)
	q.FilterNonzero(store.Message{FromID: fromID})
	q.FilterEqual("IsSpam", true)
	err := q.ForEach(func(m store.Message) error {
		seen[m.ToID] = struct{}{}
		return nil
	})
	return len(seen), err
}

// IsSpammer reports whether the sender's distinct spam recipient count has
// reached the autoban threshold.
func IsSpammer(ctx context.Context, fromID int64) (bool, error) {
	db, err := store.Database(ctx)
	if err != nil {
		return false, err
	}
	var n int
	err = db.Read(ctx, func(tx *bstore.Tx) error {
		n, err = DistinctSpamRecipients(tx, fromID)
		return err
	})
	return n >= AutobanThreshold, err
}

// RecordSpamDelivery re-evaluates the sender after a spam-flagged delivery
// and escalates when the threshold is reached: the user's ban flag is set and
// one Ban and one Feedback record are written, all in one transaction. A
// sender that is already banned is never escalated again. Returns whether
// this call performed the escalation.
//
// Callers invoke this after the message send has committed; a failure here is
// theirs to log and retry, it must not undo the send.
func RecordSpamDelivery(ctx context.Context, log *mlog.Log, fromID int64) (escalated bool, rerr error) {
	db, err := store.Database(ctx)
	if err != nil {
		return false, err
	}
	err = db.Write(ctx, func(tx *bstore.Tx) error {
		u := store.User{ID: fromID}
		if err := tx.Get(&u); err != nil {
			return err
		}
		if u.IsBanned {
			// Already escalated, possibly by a concurrent delivery.
			return nil
		}
		n, err := DistinctSpamRecipients(tx, fromID)
		if err != nil {
			return err
		}
		if n < AutobanThreshold {
			return nil
		}

		u.IsBanned = true
		if err := tx.Update(&u); err != nil {
			return err
		}
		reason := fmt.Sprintf("Spambot. Automatically banned after sending spam to %d distinct users.", n)
		if err := tx.Insert(&store.Ban{UserID: fromID, Reason: reason}); err != nil {
			return err
		}
		if err := tx.Insert(&store.Feedback{UserID: fromID, Category: "negative", Body: reason}); err != nil {
			return err
		}
		escalated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if escalated {
		metricAutoban.Inc()
		log.Info("sender banned for spam", mlog.Field("user", fromID))
	}
	return escalated, nil
}
