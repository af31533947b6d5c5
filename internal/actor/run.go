package actor

import (
	"context"

	"github.com/sourcegraph/conc/panics"

	"ragcore/internal/logging"
)

// Run drains mb one message at a time, in arrival order, until ctx is done or the
// mailbox is closed. A panic while handling a message is recovered, that
// message's reply is abandoned, and the loop keeps serving. Messages still queued
// when Run returns are abandoned.
func Run[M Message](ctx context.Context, name string, mb *Mailbox[M], handle func(M)) {
	logging.ActorDebug("%s: actor started", name)
	defer func() {
		if n := mb.Shutdown(); n > 0 {
			logging.ActorDebug("%s: abandoned %d queued messages", name, n)
		}
		logging.ActorDebug("%s: actor stopped", name)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mb.Done():
			return
		case msg := <-mb.Receive():
			var pc panics.Catcher
			pc.Try(func() { handle(msg) })
			if r := pc.Recovered(); r != nil {
				logging.ActorError("%s: recovered panic: %v", name, r.AsError())
				msg.Abandon()
			}
		}
	}
}
