package bridge

import (
	"context"

	"github.com/cockroachdb/errors"

	"remindd/internal/action"
	logx "remindd/pkg/logx"
)

// Bridge runs job actions in the right place: Loop actions on the host
// loop, everything else on the calling goroutine. Invoke returns only after
// the action has finished.
type Bridge struct {
	reg  *action.Registry
	loop *Loop
	log  logx.Logger
}

func New(reg *action.Registry, loop *Loop, log logx.Logger) *Bridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{reg: reg, loop: loop, log: log}
}

func (b *Bridge) Invoke(ctx context.Context, ref action.Ref, inv action.Invocation) (any, error) {
	a, ok := b.reg.Lookup(ref)
	if !ok {
		return nil, errors.Newf("action %q is not registered", ref)
	}
	inv.Registry = b.reg
	run := func(ctx context.Context) (any, error) { return a.Fn(ctx, inv) }

	if a.Loop {
		if b.loop == nil {
			return nil, errors.Newf("action %q needs the host loop, none configured", ref)
		}
		b.log.Trace("handing job to host loop", logx.String("job", inv.JobID), logx.String("action", string(ref)))
		return b.loop.Submit(ctx, run)
	}
	return protect(ctx, run)
}
