package store

import (
	"context"

	"github.com/mjl-/bstore"
)

// Active returns whether the message has not been soft-deleted.
func (m Message) Active() bool {
	return !m.IsDeleted
}

// Unread returns whether this copy counts towards its owner's unread count:
// active, not yet read, and the recipient's copy.
func (m Message) Unread() bool {
	return m.Active() && !m.IsRead && m.OwnerID == m.ToID
}

// Response builds an unsaved reply draft for the message: sender and
// recipient swapped, title prefixed with "Re: ". With forward, the body is
// prefilled with a quoted rendition of the original body, otherwise it starts
// empty. The draft is persisted through the regular send path when submitted.
func (m Message) Response(forward bool) Message {
	r := Message{
		FromID: m.ToID,
		ToID:   m.FromID,
		Title:  "Re: " + m.Title,
	}
	if forward {
		r.Body = "[quote]\n" + m.Body + "\n[/quote]\n\n"
	}
	return r
}

// Verifier checks a capability token against a user id. Tokens are produced
// by an external signing collaborator (see package sig); a valid token grants
// message-view access for the bound user without authentication.
type Verifier interface {
	Verify(token string, userID int64) bool
}

// VisibleTo reports whether viewer may see this message copy: the owner
// always may, and a holder of a capability token that verifies against the
// recipient may.
func (m Message) VisibleTo(viewer int64, token string, v Verifier) bool {
	if viewer != 0 && viewer == m.OwnerID {
		return true
	}
	if token != "" && v != nil && v.Verify(token, m.ToID) {
		return true
	}
	return false
}

// MessageID returns the message for the id.
func MessageID(ctx context.Context, id int64) (Message, error) {
	db, err := database(ctx)
	if err != nil {
		return Message{}, err
	}
	m := Message{ID: id}
	err = db.Get(ctx, &m)
	return m, err
}

// VisibleMessage returns the message for the id if viewer may see it, and
// ErrPrivilege otherwise. Callers must surface the privilege failure, not
// substitute an empty message.
func VisibleMessage(ctx context.Context, id, viewer int64, token string, v Verifier) (Message, error) {
	m, err := MessageID(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if !m.VisibleTo(viewer, token, v) {
		return Message{}, ErrPrivilege
	}
	return m, nil
}

// Flags holds the per-copy flags an owner may change after creation. Nil
// fields are left unchanged. All other message fields are immutable.
type Flags struct {
	IsRead    *bool
	IsSpam    *bool
	IsDeleted *bool
}

// UpdateFlags applies flag changes to a message owned by actor, keeping the
// owner's cached unread count in sync in the same transaction. Returns
// ErrPrivilege if actor does not own the message.
func UpdateFlags(ctx context.Context, id, actor int64, fl Flags) (Message, error) {
	db, err := database(ctx)
	if err != nil {
		return Message{}, err
	}
	var m Message
	err = db.Write(ctx, func(tx *bstore.Tx) error {
		m = Message{ID: id}
		if err := tx.Get(&m); err != nil {
			return err
		}
		if m.OwnerID != actor {
			return ErrPrivilege
		}
		wasUnread := m.Unread()
		if fl.IsRead != nil {
			m.IsRead = *fl.IsRead
		}
		if fl.IsSpam != nil {
			m.IsSpam = *fl.IsSpam
		}
		if fl.IsDeleted != nil {
			m.IsDeleted = *fl.IsDeleted
		}
		if wasUnread != m.Unread() {
			delta := int64(-1)
			if m.Unread() {
				delta = 1
			}
			if err := AdjustUnread(tx, m.OwnerID, delta); err != nil {
				return err
			}
		}
		return tx.Update(&m)
	})
	return m, err
}

// MarkRead sets the read flag on a message, a no-op if already read. The
// caller must have checked visibility; capability viewers may mark a message
// read on first open.
func MarkRead(ctx context.Context, id int64) (Message, error) {
	db, err := database(ctx)
	if err != nil {
		return Message{}, err
	}
	var m Message
	err = db.Write(ctx, func(tx *bstore.Tx) error {
		m = Message{ID: id}
		if err := tx.Get(&m); err != nil {
			return err
		}
		if m.IsRead {
			return nil
		}
		if m.Unread() {
			if err := AdjustUnread(tx, m.OwnerID, -1); err != nil {
				return err
			}
		}
		m.IsRead = true
		return tx.Update(&m)
	})
	return m, err
}
