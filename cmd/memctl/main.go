// Command memctl inspects and edits a shared memory namespace from the
// shell.
//
//	memctl --host redis --prefix app: set greeting '"hello"'
//	memctl get greeting
//	memctl keys
//
// REDIS_HOST, REDIS_PORT and REDIS_PREFIX provide defaults for the matching
// flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tailored-agentic-units/sharedmem/codec"
	"github.com/tailored-agentic-units/sharedmem/memory"
	"github.com/tailored-agentic-units/sharedmem/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, nil)
	if err == nil {
		return
	}

	var ferr *flags.Error
	if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
		fmt.Fprintln(os.Stdout, ferr.Message)
		return
	}
	fmt.Fprintln(os.Stderr, "memctl:", err)
	os.Exit(1)
}

// run parses args and executes one command. A nil logger builds one from
// the --verbose flag.
func run(ctx context.Context, args []string, out io.Writer, logger *zap.Logger) error {
	a := &app{ctx: ctx, out: out, logger: logger}
	opts := newOptions(a)
	a.opts = opts

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}
	return a.close()
}

// app carries what every command needs. The Memory is opened on first use
// and closed once the command returns.
type app struct {
	ctx    context.Context
	out    io.Writer
	opts   *Options
	logger *zap.Logger
	mem    *memory.Memory
	events observability.Recorder
}

// errUndelivered reports writes dropped at exit because the server never
// confirmed them and no spool was configured.
var errUndelivered = errors.New("writes not delivered")

func (a *app) memory() (*memory.Memory, error) {
	if a.mem != nil {
		return a.mem, nil
	}

	cfg, err := a.opts.config()
	if err != nil {
		return nil, err
	}

	if a.logger == nil {
		a.logger, err = newLogger(a.opts.Verbose)
		if err != nil {
			return nil, err
		}
	}

	a.mem, err = memory.New(a.ctx, cfg,
		memory.WithObserver(observability.Multi(observability.NewZapObserver(a.logger), &a.events)))
	if err != nil {
		return nil, err
	}
	return a.mem, nil
}

func (a *app) close() error {
	if a.mem == nil {
		return nil
	}
	err := a.mem.Close(a.ctx)
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if n := a.discarded(); n > 0 {
		err = errors.Join(err, fmt.Errorf("%w: %d dropped, server unreachable (use --spool to keep them)", errUndelivered, n))
	}
	return err
}

func (a *app) discarded() int {
	for _, e := range a.events.Events() {
		if e.Type == memory.EventClose {
			n, _ := e.Data["discarded"].(int)
			return n
		}
	}
	return 0
}

func (a *app) print(v any) error {
	if p, ok := v.(codec.Plainer); ok {
		v = p.PlainValue()
	}
	data, err := codec.Encode(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
