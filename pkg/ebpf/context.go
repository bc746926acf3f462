package ebpf

// RegisterSnapshot is an immutable copy of the 11 program registers plus pc,
// appended to a trace log by the context object's trace hook (§4.C).
type RegisterSnapshot struct {
	PC  int
	Reg [12]uint64 // r0..r10, slot 11 holds pc for symmetry with the invoke ABI
}

// ContextObject is the capability set threaded through both the interpreter
// and the JIT's external-call anchor: consume/get_remaining for the
// instruction meter, trace for the optional step log (§4.C, §9
// "Polymorphism" — modeled as an interface rather than a fixed struct so a
// host can supply its own metering policy).
type ContextObject interface {
	Consume(n uint64)
	GetRemaining() uint64
	Trace(snapshot RegisterSnapshot)
}

// Context is the reference ContextObject: a monotonically decreasing
// instruction meter plus an in-memory trace log, matching the teacher's
// flat-struct style (robertodauria-ebpf-vm/pkg/vm.VM keeps all state as
// plain fields, no accessor ceremony beyond what an interface demands).
type Context struct {
	remaining uint64
	log       []RegisterSnapshot
	tracing   bool
}

// NewContext builds a Context with the given initial instruction budget.
func NewContext(initialBudget uint64, tracing bool) *Context {
	return &Context{remaining: initialBudget, tracing: tracing}
}

// Consume decrements the remaining budget by n. It saturates at zero rather
// than wrapping; ExceededMaxInstructions is raised by the caller once
// GetRemaining reaches zero at a checkpoint, per §4.C.
func (c *Context) Consume(n uint64) {
	if n >= c.remaining {
		c.remaining = 0
		return
	}
	c.remaining -= n
}

// GetRemaining returns the instructions left before ExceededMaxInstructions.
func (c *Context) GetRemaining() uint64 {
	return c.remaining
}

// Trace appends snapshot to the log when tracing is enabled
// (Config.EnableInstructionTracing); a no-op otherwise so production
// invocations pay nothing for the hook.
func (c *Context) Trace(snapshot RegisterSnapshot) {
	if !c.tracing {
		return
	}
	c.log = append(c.log, snapshot)
}

// Log returns the accumulated trace, oldest entry first.
func (c *Context) Log() []RegisterSnapshot {
	return c.log
}

// TestContextObject is a ContextObject with an exported remaining counter,
// used by the test suite to assert on the exact
// billed instruction count (§8 "Meter monotonicity") without exposing the
// production Context's internals.
type TestContextObject struct {
	Remaining uint64
	Log       []RegisterSnapshot
}

func (t *TestContextObject) Consume(n uint64) {
	if n >= t.Remaining {
		t.Remaining = 0
		return
	}
	t.Remaining -= n
}

func (t *TestContextObject) GetRemaining() uint64 { return t.Remaining }

func (t *TestContextObject) Trace(snapshot RegisterSnapshot) {
	t.Log = append(t.Log, snapshot)
}
