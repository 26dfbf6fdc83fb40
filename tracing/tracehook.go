package tracing

import (
	"fmt"
	"reflect"

	"github.com/sarchlab/vmcore/sim"
)

// CollectTrace let the tracer to collect trace from a domain
func CollectTrace(domain NamedHookable, tracer Tracer) {
	hooks := domain.Hooks()
	for _, hook := range hooks {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf(
				"domain %s already has tracer %s",
				domain.Name(), reflect.TypeOf(tracer)))
		}
	}

	h := traceHook{t: tracer}
	domain.AcceptHook(&h)
}

// A traceHook is a hook that forwards events to a tracer
type traceHook struct {
	t Tracer
}

// Func calls the tracer when the hook is triggered
func (h *traceHook) Func(ctx sim.HookCtx) {
	if ctx.Pos != HookPosVMEvent {
		return
	}

	h.t.Record(ctx.Item.(Event))
}
