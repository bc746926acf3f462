package ebpf

// Config enumerates every tunable named in §6. Kept a flat struct rather
// than a builder/viper-backed object — the teacher's style (plain structs,
// no configuration framework) and the fact that this Config never crosses
// a process boundary: it is constructed in-process and handed straight to
// Verify/NewInterpreter/jit.Compile.
type Config struct {
	// EnableInstructionTracing makes the interpreter append a
	// RegisterSnapshot per step. The JIT does not read it and emits no
	// tracing code.
	EnableInstructionTracing bool

	// EnableSymbolAndSectionLabels retains metadata for disassembly.
	EnableSymbolAndSectionLabels bool

	// EnableInstructionMeter turns metering on/off; off disables all
	// accounting and JIT checkpoints.
	EnableInstructionMeter bool

	// EnableSDiv permits signed division opcodes (smod/sdiv are not part
	// of the base ISA this VM models as "division"; rather this gates
	// whether DIV/MOD with sign-sensitive runtime probing is allowed).
	EnableSDiv bool

	// EnableAddressTranslation is carried in the configuration (§4.G
	// "testing only") but read by neither executor: the JIT always emits
	// translated, checked memory ops whatever its value.
	EnableAddressTranslation bool

	// EnableStackFrameGaps doubles the stack-frame stride for overflow
	// detection (§3 "gapped stack").
	EnableStackFrameGaps bool

	// DynamicStackFrames makes r11 the mutable stack pointer; otherwise
	// frames are a fixed size.
	DynamicStackFrames bool

	// StaticSyscalls makes CALL_IMM.Src disambiguate external (src==0)
	// from internal (src!=0) call targets.
	StaticSyscalls bool

	// SanitizeUserProvidedValues enables JIT constant blinding.
	SanitizeUserProvidedValues bool

	// NoopInstructionRate is the mean spacing of JIT no-op insertion; 0
	// disables it.
	NoopInstructionRate uint32

	// InstructionMeterCheckpointDistance bounds the length of a
	// branch-free run between JIT meter checkpoints.
	InstructionMeterCheckpointDistance uint32

	StackSize     uint64
	StackFrameSize uint64
	MaxCallDepth  uint64

	// RuntimeEnvironmentKey is carried in the configuration (§4.G
	// "rbp-pivot") but not applied: the JIT's pivot register holds the
	// runtime environment's base address, and displacements are its
	// unsafe.Offsetof field offsets, which need not fit 8 bits.
	RuntimeEnvironmentKey int64
}

// DefaultConfig returns the configuration the reference interpreter and JIT
// are validated against in §8's concrete scenarios.
func DefaultConfig() Config {
	return Config{
		EnableInstructionMeter:             true,
		EnableAddressTranslation:           true,
		StaticSyscalls:                     true,
		SanitizeUserProvidedValues:         true,
		InstructionMeterCheckpointDistance: 250,
		StackSize:                          4096,
		StackFrameSize:                     4096,
		MaxCallDepth:                       64,
		RuntimeEnvironmentKey:              0,
	}
}

// EffectiveStackFrameSize returns the per-frame stride after accounting for
// gapped-stack doubling (§4.F "doubled when gaps are enabled").
func (c Config) EffectiveStackFrameSize() uint64 {
	if c.EnableStackFrameGaps {
		return c.StackFrameSize * 2
	}
	return c.StackFrameSize
}

// Option mutates a Config in place; NewConfig folds a list of them onto
// DefaultConfig so callers (chiefly cmd/ebpfvm) assemble one from CLI flags
// without repeating every field name at the call site.
type Option func(*Config)

// NewConfig builds a Config from DefaultConfig with opts applied in order.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithMaxCallDepth(n uint64) Option {
	return func(c *Config) { c.MaxCallDepth = n }
}

func WithStackSize(n uint64) Option {
	return func(c *Config) { c.StackSize = n }
}

func WithStackFrameSize(n uint64) Option {
	return func(c *Config) { c.StackFrameSize = n }
}

func WithInstructionMeterCheckpointDistance(n uint32) Option {
	return func(c *Config) { c.InstructionMeterCheckpointDistance = n }
}

func WithNoopInstructionRate(n uint32) Option {
	return func(c *Config) { c.NoopInstructionRate = n }
}

func WithInstructionTracing(enabled bool) Option {
	return func(c *Config) { c.EnableInstructionTracing = enabled }
}

func WithInstructionMeter(enabled bool) Option {
	return func(c *Config) { c.EnableInstructionMeter = enabled }
}

func WithSDiv(enabled bool) Option {
	return func(c *Config) { c.EnableSDiv = enabled }
}

func WithAddressTranslation(enabled bool) Option {
	return func(c *Config) { c.EnableAddressTranslation = enabled }
}

func WithStackFrameGaps(enabled bool) Option {
	return func(c *Config) { c.EnableStackFrameGaps = enabled }
}

func WithDynamicStackFrames(enabled bool) Option {
	return func(c *Config) { c.DynamicStackFrames = enabled }
}

func WithStaticSyscalls(enabled bool) Option {
	return func(c *Config) { c.StaticSyscalls = enabled }
}

func WithSanitizeUserProvidedValues(enabled bool) Option {
	return func(c *Config) { c.SanitizeUserProvidedValues = enabled }
}
