package main

import (
	"context"
	golog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kagami/dmail/deliver"
	"github.com/kagami/dmail/dmail-"
	"github.com/kagami/dmail/dmailvar"
	"github.com/kagami/dmail/mlog"
	"github.com/kagami/dmail/store"
	"github.com/kagami/dmail/webdmail"
)

func cmdServe(c *cmd) {
	c.help = `Start the dmail engine.

Opens the message database, ensures the system user exists and serves the
JSON API at /api/ and prometheus metrics at /metrics on the configured listen
address. Shuts down gracefully on SIGINT/SIGTERM.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	dmail.MustLoadConfig()
	log := c.log

	err := store.Init(dmail.Context)
	xcheckf(err, "initializing store")
	deliver.Init()

	mux := http.NewServeMux()
	mux.Handle("/api/", webdmail.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:     dmail.Conf.Listen,
		Handler:  mux,
		ErrorLog: golog.New(mlog.ErrWriter(log, mlog.LevelError, "http error"), "", 0),
	}
	go func() {
		log.Print("serving", mlog.Field("addr", dmail.Conf.Listen), mlog.Field("version", dmailvar.Version))
		err := srv.ListenAndServe()
		if err != http.ErrServerClosed {
			log.Fatalx("serve", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigc
	log.Print("shutting down, waiting max 3s for existing requests", mlog.Field("signal", sig))

	dmail.ShutdownCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorx("shutting down http server", err)
	}
	dmail.ContextCancel()
	if err := store.Close(); err != nil {
		log.Errorx("closing database", err)
	}
}
