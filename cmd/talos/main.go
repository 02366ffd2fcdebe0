// Command talos applies bulk text operations to stdin lines or serves them
// over NATS.
//
// Usage:
//
//	talos run -op find -pattern '\d+' < input.txt
//	talos serve
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wehubfusion/Talos/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
)

var version = "dev"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func realMain(args []string, stdin io.Reader, stdout, stderr io.Writer) (code int) {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}

	logger, err := newLogger(os.Getenv("TALOS_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(stderr, "talos: %v\n", err)
		return exitUsage
	}
	defer func() { _ = logger.Sync() }()

	flush := initSentry(logger)
	defer flush()
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			flush()
			panic(r)
		}
	}()

	undo := concurrency.InitializeForKubernetes(logger)
	defer undo()
	applyRuntimeSettings(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "run":
		err = runCommand(ctx, args[1:], stdin, stdout, logger)
	case "serve":
		err = serveCommand(ctx, args[1:], logger)
	case "version":
		fmt.Fprintln(stdout, version)
		return exitOK
	case "help", "-h", "--help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "talos: unknown command %q\n", args[0])
		usage(stderr)
		return exitUsage
	}

	var ue *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue):
		fmt.Fprintf(stderr, "talos: %v\n", err)
		return exitUsage
	default:
		reportError(err)
		fmt.Fprintf(stderr, "talos: %v\n", err)
		return exitError
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: talos <command> [flags]

commands:
  run      apply an operation to every line of stdin
  serve    answer batch requests over NATS
  version  print the version
`)
}

// usageError marks bad flags or arguments.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		l, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid TALOS_LOG_LEVEL: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(l)
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// initSentry enables error reporting when TALOS_SENTRY_DSN is set. The
// returned func flushes pending events.
func initSentry(logger *zap.Logger) func() {
	dsn := os.Getenv("TALOS_SENTRY_DSN")
	if dsn == "" {
		return func() {}
	}
	env := os.Getenv("TALOS_ENV")
	if env == "" {
		env = "development"
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
		Release:     "talos@" + version,
	}); err != nil {
		logger.Warn("Sentry disabled", zap.Error(err))
		return func() {}
	}
	logger.Info("Sentry enabled", zap.String("environment", env))
	return func() { sentry.Flush(2 * time.Second) }
}

// reportError sends faults to Sentry. Bad patterns, scripts and requests
// are the caller's problem and stay local.
func reportError(err error) {
	switch sdkerrors.Code(err) {
	case sdkerrors.CodePatternCompile, sdkerrors.CodeScriptCompile, sdkerrors.CodeInvalidRequest, sdkerrors.CodeCancelled, sdkerrors.CodeUnavailable:
		return
	}
	sentry.CaptureException(err)
}
