// Command dbicore drives an Engine from the command line: translate a
// single basic block and print its disassembly, or run the engine forward
// from an address and report code-cache statistics.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/vantir/dbicore"
)

func main() {
	app := &cli.Command{
		Name:  "dbicore",
		Usage: "dynamic binary instrumentation engine driver",
		Commands: []*cli.Command{
			translateCommand,
			runCommand,
			statsCommand,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dbicore:", err)
		os.Exit(1)
	}
}

var addrFlag = &cli.StringFlag{
	Name:     "addr",
	Usage:    "guest address to start from, hex or decimal",
	Required: true,
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "log engine internals to stderr at debug level",
}

var translateCommand = &cli.Command{
	Name:  "translate",
	Usage: "translate the basic block at --addr without executing it",
	Flags: []cli.Flag{addrFlag, verboseFlag},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		addr, err := parseAddr(cmd.String("addr"))
		if err != nil {
			return err
		}
		e, err := newEngine(cmd.Bool("verbose"))
		if err != nil {
			return err
		}
		if err := e.Translate(addr); err != nil {
			return fmt.Errorf("translate %#x: %w", addr, err)
		}
		stats := e.Stats()
		fmt.Printf("translated block at %#x (sequences cached: %d, bytes used: %d)\n", addr, stats.Sequences, stats.Bytes)
		return nil
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "run the engine forward from --addr, through native hand-offs, until a hand-off finds no resume point, an error occurs, or --steps runs out",
	Flags: []cli.Flag{
		addrFlag,
		verboseFlag,
		&cli.IntFlag{Name: "steps", Usage: "stop after this many steps, each a translated block or a native hand-off (0 = no limit)"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		addr, err := parseAddr(cmd.String("addr"))
		if err != nil {
			return err
		}
		e, err := newEngine(cmd.Bool("verbose"))
		if err != nil {
			return err
		}
		e.AddCodeCB(func(addr uint64) {
			fmt.Fprintf(os.Stderr, "translated %#x\n", addr)
		})
		e.SetPC(addr)
		if err := e.Run(int(cmd.Int("steps"))); err != nil {
			return fmt.Errorf("run from %#x: %w", addr, err)
		}
		e.LogStats()
		return nil
	},
}

var statsCommand = &cli.Command{
	Name:  "stats",
	Usage: "translate the basic block at --addr and print code-cache statistics",
	Flags: []cli.Flag{addrFlag},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		addr, err := parseAddr(cmd.String("addr"))
		if err != nil {
			return err
		}
		e, err := newEngine(false)
		if err != nil {
			return err
		}
		if err := e.Translate(addr); err != nil {
			return err
		}
		s := e.Stats()
		fmt.Printf("regions=%d sequences=%d bytes=%d capacity=%d cacheInvalidations=%d\n", s.Regions, s.Sequences, s.Bytes, s.Capacity, s.CacheInvalidations)
		return nil
	},
}

func newEngine(verbose bool) (*dbicore.Engine, error) {
	cfg := dbicore.NewConfig()
	if verbose {
		cfg = cfg.WithLogger(os.Stderr, logrus.DebugLevel)
	}
	return dbicore.NewEngine(cfg)
}

func parseAddr(s string) (uint64, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --addr %q: %w", s, err)
	}
	return addr, nil
}
