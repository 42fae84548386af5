package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mjl-/bstore"

	"github.com/kagami/dmail/dmail-"
	"github.com/kagami/dmail/store"
)

func cmdBackup(c *cmd) {
	c.params = "destdir"
	c.help = `Creates a backup of the message database.

The backup is written in a read transaction, so it is a consistent snapshot
even while the engine is running. Restore by pointing DataDir at the backup
directory.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	dmail.MustLoadConfig()
	dstDir := args[0]

	err := os.MkdirAll(dstDir, 0770)
	xcheckf(err, "creating destination directory")
	dst := filepath.Join(dstDir, "dmail.db")
	if _, err := os.Stat(dst); err == nil {
		xcheckf(fmt.Errorf("%s already exists", dst), "checking destination")
	}

	db, err := store.Database(dmail.Context)
	xcheckf(err, "opening database")
	defer store.Close()

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0660)
	xcheckf(err, "creating destination file")

	var n int64
	err = db.Read(dmail.Context, func(tx *bstore.Tx) error {
		var err error
		n, err = tx.WriteTo(f)
		return err
	})
	xcheckf(err, "writing backup")
	err = f.Sync()
	xcheckf(err, "sync backup")
	err = f.Close()
	xcheckf(err, "closing backup")
	fmt.Printf("backed up %d bytes to %s\n", n, dst)
}
