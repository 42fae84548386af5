package dmail

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kagami/dmail/mlog"
)

var cid atomic.Int64

func init() {
	cid.Store(time.Now().UnixMilli())
}

// Cid returns a new unique id to be used for operations/requests.
func Cid() int64 {
	return cid.Add(1)
}

// CidContext returns a context with a new cid, for logging.
func CidContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, mlog.CidKey, Cid())
}
