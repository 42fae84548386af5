package dmail

import (
	"context"
)

// Shutdown is canceled when a graceful shutdown is initiated. Operations
// should check this before starting new work.
var Shutdown context.Context
var ShutdownCancel func()

// Context should be used as parent by most operations. It is canceled shortly
// after Shutdown, aborting active operations.
var Context context.Context
var ContextCancel func()

func init() {
	Shutdown, ShutdownCancel = context.WithCancel(context.Background())
	Context, ContextCancel = context.WithCancel(context.Background())
}
