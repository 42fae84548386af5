/*
Package store implements storage for users and their private messages
("dmails"), and for the bans and feedback records produced by automated spam
escalation.

Every logical send stores one message copy per participant: the sender's copy
and the recipient's copy are independent records that share their content and
creation fields but have different owners. Messages are never physically
removed, only flagged deleted.

All multi-record changes go through a single bstore write transaction, so a
partial split send or a half-applied escalation is never visible.
*/
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/mjl-/bstore"

	"github.com/kagami/dmail/dmail-"
	"github.com/kagami/dmail/mlog"
)

var xlog = mlog.New("store")

var (
	DBTypes = []any{User{}, Message{}, Ban{}, Feedback{}} // Types stored in DB.
	DB      *bstore.DB                                    // Exported for backups.
	mutex   sync.Mutex
)

var (
	ErrPrivilege    = errors.New("not authorized to view message")
	ErrUserAbsent   = errors.New("no such user")
	ErrNoSystemUser = errors.New("no system user configured")
)

// User is a participant in the messaging system. Only the fields the engine
// needs are stored here; profile data lives elsewhere in the platform.
type User struct {
	ID        int64
	Name      string    `bstore:"nonzero,unique"`
	NameLower string    `bstore:"nonzero,unique"` // Normalized name, for recipient lookup.
	Created   time.Time `bstore:"nonzero,default now"`

	IsBanned bool
	IsSystem bool // The distinguished automated sender.

	// Whether sends to this user emit a notification event.
	ReceiveEmailNotifications bool

	// Cached unread count, kept in sync inside the transactions that change
	// unread state. The authoritative count is always derived from Message
	// records, see UnreadCount.
	UnreadDmails int64
}

// Message is one stored copy of a dmail. A user-to-user send stores two
// (sender and recipient copy), an automated send only the recipient copy.
type Message struct {
	ID        int64
	Created   time.Time `bstore:"nonzero,default now"`
	CreatorIP string    // Originating network address of the sender at send time.

	FromID  int64 `bstore:"nonzero,ref User,index"`
	ToID    int64 `bstore:"nonzero,ref User"`
	OwnerID int64 `bstore:"nonzero,ref User,index OwnerID+Created"` // Whose mailbox this copy is in, equals FromID or ToID.

	Title string `bstore:"nonzero"`
	Body  string `bstore:"nonzero"`

	IsRead    bool
	IsSpam    bool
	IsDeleted bool // Soft delete, never physically removed.
}

// Ban is created once when a sender is escalated by the abuse tracker.
type Ban struct {
	ID      int64
	UserID  int64     `bstore:"nonzero,ref User,index"`
	Reason  string    `bstore:"nonzero"`
	Created time.Time `bstore:"nonzero,default now"`
}

// Feedback is a moderation note on a user's public record, created alongside
// a Ban during escalation.
type Feedback struct {
	ID       int64
	UserID   int64     `bstore:"nonzero,ref User,index"`
	Category string    `bstore:"nonzero"`
	Body     string    `bstore:"nonzero"`
	Created  time.Time `bstore:"nonzero,default now"`
}

func database(ctx context.Context) (rdb *bstore.DB, rerr error) {
	mutex.Lock()
	defer mutex.Unlock()
	if DB == nil {
		p := dmail.DataDirPath("dmail.db")
		os.MkdirAll(filepath.Dir(p), 0770)
		db, err := bstore.Open(ctx, p, &bstore.Options{Timeout: 5 * time.Second, Perm: 0660}, DBTypes...)
		if err != nil {
			return nil, err
		}
		xlog.WithContext(ctx).Debug("database opened", mlog.Field("path", p))
		DB = db
	}
	return DB, nil
}

// Database returns the message database, opening it on first use.
func Database(ctx context.Context) (*bstore.DB, error) {
	return database(ctx)
}

// Init opens the database and ensures the system user exists.
func Init(ctx context.Context) error {
	db, err := database(ctx)
	if err != nil {
		return err
	}
	return db.Write(ctx, func(tx *bstore.Tx) error {
		_, err := SystemUser(tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNoSystemUser) {
			return err
		}
		name := dmail.Conf.SystemUser
		u := User{Name: name, NameLower: normalizeName(name), IsSystem: true}
		return tx.Insert(&u)
	})
}

// Close closes the database.
func Close() error {
	mutex.Lock()
	defer mutex.Unlock()
	if DB == nil {
		return nil
	}
	err := DB.Close()
	DB = nil
	return err
}

func normalizeName(name string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(name)))
}

// UserAdd creates a new user with the given display name.
func UserAdd(ctx context.Context, name string) (User, error) {
	db, err := database(ctx)
	if err != nil {
		return User{}, err
	}
	u := User{Name: name, NameLower: normalizeName(name)}
	if err := db.Insert(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// UserID returns the user for the id.
func UserID(ctx context.Context, id int64) (User, error) {
	db, err := database(ctx)
	if err != nil {
		return User{}, err
	}
	u := User{ID: id}
	err = db.Get(ctx, &u)
	return u, err
}

// UserByName looks up a user by display name. Lookup is case-insensitive on
// the NFC-normalized name. Returns ErrUserAbsent when no user matches.
func UserByName(tx *bstore.Tx, name string) (User, error) {
	q := bstore.QueryTx[User](tx)
	q.FilterNonzero(User{NameLower: normalizeName(name)})
	u, err := q.Get()
	if err == bstore.ErrAbsent {
		return User{}, ErrUserAbsent
	}
	return u, err
}

// SystemUser returns the distinguished automated sender.
func SystemUser(tx *bstore.Tx) (User, error) {
	q := bstore.QueryTx[User](tx)
	q.FilterNonzero(User{IsSystem: true})
	u, err := q.Get()
	if err == bstore.ErrAbsent {
		return User{}, ErrNoSystemUser
	}
	return u, err
}
