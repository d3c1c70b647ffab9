// Package cmd adapts plain functions into cli commands. A command function
// takes a context and an options struct whose go-flags tags describe its
// flags and positional arguments.
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"

	"github.com/hashicorp/go-hclog"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sys/unix"
	"lab47.dev/kiln/pkg/progress"
)

type GlobalOptions struct {
	LogLevel string `long:"log-level" env:"KILN_LOG_LEVEL" default:"info" description:"log level (trace, debug, info, warn, error)"`
}

type Cmd struct {
	syn, name string
	f         reflect.Value

	opts   reflect.Value
	global GlobalOptions
	parser *flags.Parser

	// Out receives error reports, stdout when nil.
	Out io.Writer
}

func New(name, syn string, f interface{}) *Cmd {
	rv := reflect.ValueOf(f)

	if rv.Kind() != reflect.Func {
		panic("must pass a function")
	}

	rt := rv.Type()

	if rt.NumIn() != 2 {
		panic("must provide two arguments only")
	}

	if rt.NumOut() != 1 {
		panic("must return one argument only")
	}

	in := rt.In(1)

	if in.Kind() != reflect.Struct {
		panic("argument must be a struct")
	}

	sv := reflect.New(in)

	parser := flags.NewNamedParser(name, flags.Default)
	parser.ShortDescription = syn
	parser.LongDescription = syn

	_, err := parser.AddGroup("Application Options", "", sv.Interface())
	if err != nil {
		panic(err)
	}

	c := &Cmd{
		syn:    syn,
		name:   name,
		f:      rv,
		opts:   sv,
		parser: parser,
	}

	_, err = parser.AddGroup("Global Options", "", &c.global)
	if err != nil {
		panic(err)
	}

	return c
}

func (w *Cmd) Help() string {
	var buf bytes.Buffer
	w.parser.WriteHelp(&buf)
	return buf.String()
}

func (w *Cmd) Synopsis() string {
	return w.syn
}

func (w *Cmd) out() io.Writer {
	if w.Out == nil {
		return os.Stdout
	}

	return w.Out
}

// Logger returns the logger configured from the global options.
func (w *Cmd) Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "kiln",
		Level:  hclog.LevelFromString(w.global.LogLevel),
		Output: os.Stderr,
	})
}

func (w *Cmd) Run(args []string) int {
	_, err := w.parser.ParseArgs(args)
	if err != nil {
		return 1
	}

	if hclog.LevelFromString(w.global.LogLevel) == hclog.NoLevel {
		fmt.Fprintf(w.out(), "! Error: unknown log level %q\n", w.global.LogLevel)
		return 1
	}

	hclog.SetDefault(w.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelOnSignal(cancel, os.Interrupt, unix.SIGQUIT, unix.SIGTERM)

	ctx = progress.Open(ctx, os.Stderr)

	rets := w.f.Call([]reflect.Value{reflect.ValueOf(ctx), w.opts.Elem()})

	if err, ok := rets[0].Interface().(error); ok {
		if err != nil {
			fmt.Fprintf(w.out(), "! Error: %+v\n", err)
			return 1
		}
	}

	return 0
}

func cancelOnSignal(cancel func(), signals ...os.Signal) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, signals...)

	go func() {
		for range c {
			cancel()
		}
	}()
}
