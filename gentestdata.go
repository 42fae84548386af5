package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/bstore"

	"github.com/kagami/dmail/store"
)

func cmdGentestdata(c *cmd) {
	c.unlisted = true
	c.params = "dest-dir"
	c.help = `Generate a data directory with sample users and messages.

For testing upgrades and tools against a database with some content. The
directory must not yet contain a database.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	dest := args[0]

	err := os.MkdirAll(dest, 0770)
	xcheckf(err, "creating destination directory")
	dbpath := filepath.Join(dest, "dmail.db")
	if _, err := os.Stat(dbpath); err == nil {
		xcheckf(fmt.Errorf("%s already exists", dbpath), "checking destination")
	}

	ctxbg := context.Background()
	db, err := bstore.Open(ctxbg, dbpath, &bstore.Options{Timeout: 5 * time.Second, Perm: 0660}, store.DBTypes...)
	xcheckf(err, "creating database")
	defer db.Close()

	err = db.Write(ctxbg, func(tx *bstore.Tx) error {
		system := store.User{Name: "System", NameLower: "system", IsSystem: true}
		if err := tx.Insert(&system); err != nil {
			return err
		}
		alice := store.User{Name: "alice", NameLower: "alice", ReceiveEmailNotifications: true}
		bob := store.User{Name: "bob", NameLower: "bob"}
		for _, u := range []*store.User{&alice, &bob} {
			if err := tx.Insert(u); err != nil {
				return err
			}
		}

		// A split send from alice to bob, still unread.
		m := store.Message{FromID: alice.ID, ToID: bob.ID, Title: "hello", Body: "hello bob", CreatorIP: "127.0.0.1"}
		sent := m
		sent.OwnerID = alice.ID
		sent.IsRead = true
		received := m
		received.OwnerID = bob.ID
		if err := tx.Insert(&sent); err != nil {
			return err
		}
		if err := tx.Insert(&received); err != nil {
			return err
		}

		// An automated message to alice, already read.
		notice := store.Message{FromID: system.ID, ToID: alice.ID, OwnerID: alice.ID, Title: "welcome", Body: "welcome to the site", IsRead: true}
		if err := tx.Insert(&notice); err != nil {
			return err
		}

		bob.UnreadDmails = 1
		return tx.Update(&bob)
	})
	xcheckf(err, "writing test data")
	fmt.Printf("wrote test data to %s\n", dbpath)
}
