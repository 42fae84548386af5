package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/mjl-/bstore"

	"github.com/kagami/dmail/store"
)

func cmdVerifydata(c *cmd) {
	c.params = "data-dir"
	c.help = `Verify the contents of a data directory, typically of a backup.

Verifydata checks that the database file is a valid BoltDB/bstore database,
and checks invariants of the stored messages: every copy is owned by one of
its participants, all referenced users exist, and the cached unread counts
match the messages.

Because verifydata opens the database file, schema upgrades may automatically
be applied. Run it against a copy made with "dmail backup" before upgrading.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	dataDir := filepath.Clean(args[0])
	dbpath := filepath.Join(dataDir, "dmail.db")

	ctxbg := context.Background()

	var fail bool
	checkf := func(err error, path, format string, margs ...any) {
		if err == nil {
			return
		}
		fail = true
		log.Printf("error: %s: %s: %v", path, fmt.Sprintf(format, margs...), err)
	}

	// Check BoltDB consistency first, the bstore checks read all records.
	bdb, err := bolt.Open(dbpath, 0600, nil)
	checkf(err, dbpath, "open database with bolt")
	if err == nil {
		err = bdb.View(func(tx *bolt.Tx) error {
			for err := range tx.Check() {
				checkf(err, dbpath, "bolt database problem")
			}
			return nil
		})
		checkf(err, dbpath, "reading bolt database")
		if err := bdb.Close(); err != nil {
			log.Printf("closing database file: %v", err)
		}
	}

	db, err := bstore.Open(ctxbg, dbpath, &bstore.Options{}, store.DBTypes...)
	checkf(err, dbpath, "open database with bstore")
	if err != nil {
		if fail {
			log.Fatalf("errors were found")
		}
		return
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("closing database file: %v", err)
		}
	}()

	err = db.Read(ctxbg, func(tx *bstore.Tx) error {
		users := map[int64]store.User{}
		err := bstore.QueryTx[store.User](tx).ForEach(func(u store.User) error {
			users[u.ID] = u
			return nil
		})
		checkf(err, dbpath, "reading users")

		unread := map[int64]int64{}
		err = bstore.QueryTx[store.Message](tx).ForEach(func(m store.Message) error {
			if m.OwnerID != m.FromID && m.OwnerID != m.ToID {
				checkf(fmt.Errorf("message %d: owner %d is neither sender %d nor recipient %d", m.ID, m.OwnerID, m.FromID, m.ToID), dbpath, "checking message ownership")
			}
			for _, id := range []int64{m.FromID, m.ToID, m.OwnerID} {
				if _, ok := users[id]; !ok {
					checkf(fmt.Errorf("message %d: references missing user %d", m.ID, id), dbpath, "checking message users")
				}
			}
			if m.Unread() {
				unread[m.OwnerID]++
			}
			return nil
		})
		checkf(err, dbpath, "reading messages")

		for id, u := range users {
			if u.UnreadDmails != unread[id] {
				checkf(fmt.Errorf("user %d: cached unread count %d, derived %d", id, u.UnreadDmails, unread[id]), dbpath, "checking unread counts")
			}
		}

		err = bstore.QueryTx[store.Ban](tx).ForEach(func(b store.Ban) error {
			u, ok := users[b.UserID]
			if !ok {
				checkf(fmt.Errorf("ban %d: references missing user %d", b.ID, b.UserID), dbpath, "checking bans")
			} else if !u.IsBanned {
				checkf(fmt.Errorf("ban %d: user %d is not flagged banned", b.ID, b.UserID), dbpath, "checking bans")
			}
			return nil
		})
		checkf(err, dbpath, "reading bans")

		err = bstore.QueryTx[store.Feedback](tx).ForEach(func(f store.Feedback) error {
			if _, ok := users[f.UserID]; !ok {
				checkf(fmt.Errorf("feedback %d: references missing user %d", f.ID, f.UserID), dbpath, "checking feedback")
			}
			return nil
		})
		checkf(err, dbpath, "reading feedback")
		return nil
	})
	checkf(err, dbpath, "reading database")

	if fail {
		log.Fatalf("errors were found")
	}
	fmt.Println("data in order")
}
