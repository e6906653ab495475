package dbicore

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/vantir/dbicore/internal/dbilog"
)

// Config configures an Engine before it translates or runs anything.
// Methods return a modified copy, the same chainable-builder shape
// wazero's own RuntimeConfig uses, so callers can share a base config and
// branch from it without aliasing.
type Config interface {
	// WithLogger routes the engine's internal logging through w at the
	// given level instead of the silent default.
	WithLogger(w io.Writer, level logrus.Level) Config
	// WithCodeArenaSize sets the size, in bytes, of each ExecBlock's code
	// arena. Larger arenas amortize allocation cost across more
	// translations at the expense of wasted tail space per region.
	WithCodeArenaSize(bytes int) Config
	// WithDataArenaSize sets the size of each ExecBlock's data arena,
	// which must be large enough to hold Context plus any per-block
	// scratch data a future generator needs.
	WithDataArenaSize(bytes int) Config
	// WithMaxBlockInstructions caps how many guest instructions the
	// translator will fold into a single basic block before forcing a
	// split, bounding worst-case single-translation latency.
	WithMaxBlockInstructions(n int) Config
	// WithShadowStackSlots records a shadow-stack slot count. The Engine
	// does not read the value: Context.Shadow always has
	// execblock.NumShadowSlots slots, and no generated code uses it.
	WithShadowStackSlots(n int) Config
	// WithInstrumentAllExecutableMaps has the Engine instrument every
	// executable mapping present in the process at construction time,
	// rather than starting with an empty instrumented set.
	WithInstrumentAllExecutableMaps(v bool) Config

	logger() dbilog.Logger
	codeArenaSize() int
	dataArenaSize() int
	maxBlockInstructions() int
	shadowStackSlots() int
	instrumentAllExecutableMaps() bool
}

type config struct {
	log                   dbilog.Logger
	codeArenaBytes        int
	dataArenaBytes        int
	maxBlockInstrs        int
	shadowSlots           int
	instrumentAllExecMaps bool
}

const (
	defaultCodeArenaSize = 64 * 1024
	defaultDataArenaSize = 16 * 1024
	defaultMaxBlockInstr = 64
	defaultShadowSlots   = 128
)

// NewConfig returns the default Config: logging disabled, 64KiB code
// arenas, 16KiB data arenas, 64-instruction blocks, a 128-slot shadow
// stack, and no modules instrumented until the caller asks for some.
func NewConfig() Config {
	return &config{
		log:            dbilog.Noop,
		codeArenaBytes: defaultCodeArenaSize,
		dataArenaBytes: defaultDataArenaSize,
		maxBlockInstrs: defaultMaxBlockInstr,
		shadowSlots:    defaultShadowSlots,
	}
}

func (c *config) clone() *config { cp := *c; return &cp }

func (c *config) WithLogger(w io.Writer, level logrus.Level) Config {
	n := c.clone()
	n.log = dbilog.New(w, level)
	return n
}

func (c *config) WithCodeArenaSize(bytes int) Config {
	n := c.clone()
	n.codeArenaBytes = bytes
	return n
}

func (c *config) WithDataArenaSize(bytes int) Config {
	n := c.clone()
	n.dataArenaBytes = bytes
	return n
}

func (c *config) WithMaxBlockInstructions(count int) Config {
	n := c.clone()
	n.maxBlockInstrs = count
	return n
}

func (c *config) WithShadowStackSlots(count int) Config {
	n := c.clone()
	n.shadowSlots = count
	return n
}

func (c *config) WithInstrumentAllExecutableMaps(v bool) Config {
	n := c.clone()
	n.instrumentAllExecMaps = v
	return n
}

func (c *config) logger() dbilog.Logger             { return c.log }
func (c *config) codeArenaSize() int                { return c.codeArenaBytes }
func (c *config) dataArenaSize() int                { return c.dataArenaBytes }
func (c *config) maxBlockInstructions() int         { return c.maxBlockInstrs }
func (c *config) shadowStackSlots() int             { return c.shadowSlots }
func (c *config) instrumentAllExecutableMaps() bool { return c.instrumentAllExecMaps }
