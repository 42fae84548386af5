package store

import (
	"context"

	"golang.org/x/exp/slices"

	"github.com/mjl-/bstore"
)

// UnreadCount returns the number of active, unread messages owned by the
// user. This is the authoritative count, derived from message records; the
// cached User.UnreadDmails must always equal it.
func UnreadCount(ctx context.Context, userID int64) (int, error) {
	db, err := database(ctx)
	if err != nil {
		return 0, err
	}
	q := bstore.QueryDB[Message](ctx, db)
	q.FilterEqual("OwnerID", userID)
	q.FilterEqual("ToID", userID)
	q.FilterEqual("IsRead", false)
	q.FilterEqual("IsDeleted", false)
	return q.Count()
}

// LatestUnread returns the most recent active unread message owned by the
// user, bstore.ErrAbsent if there is none.
func LatestUnread(ctx context.Context, userID int64) (Message, error) {
	db, err := database(ctx)
	if err != nil {
		return Message{}, err
	}
	q := bstore.QueryDB[Message](ctx, db)
	q.FilterEqual("OwnerID", userID)
	q.FilterEqual("ToID", userID)
	q.FilterEqual("IsRead", false)
	q.FilterEqual("IsDeleted", false)
	q.SortDesc("ID")
	q.Limit(1)
	return q.Get()
}

// MarkAllRead sets the read flag on every active unread message owned by the
// user and returns the affected messages, oldest first. Safe to call when
// there are none.
func MarkAllRead(ctx context.Context, userID int64) ([]Message, error) {
	db, err := database(ctx)
	if err != nil {
		return nil, err
	}
	var l []Message
	err = db.Write(ctx, func(tx *bstore.Tx) error {
		q := bstore.QueryTx[Message](tx)
		q.FilterEqual("OwnerID", userID)
		q.FilterEqual("ToID", userID)
		q.FilterEqual("IsRead", false)
		q.FilterEqual("IsDeleted", false)
		q.Gather(&l)
		if _, err := q.UpdateFields(map[string]any{"IsRead": true}); err != nil {
			return err
		}
		for i := range l {
			l[i].IsRead = true
		}

		u := User{ID: userID}
		if err := tx.Get(&u); err != nil {
			return err
		}
		u.UnreadDmails = 0
		return tx.Update(&u)
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(l, func(a, b Message) int {
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return l, nil
}

// AdjustUnread applies a delta to the cached unread count of a user, within
// the transaction that changes the underlying messages.
func AdjustUnread(tx *bstore.Tx, userID, delta int64) error {
	u := User{ID: userID}
	if err := tx.Get(&u); err != nil {
		return err
	}
	u.UnreadDmails += delta
	if u.UnreadDmails < 0 {
		u.UnreadDmails = 0
	}
	return tx.Update(&u)
}
