package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/wehubfusion/Talos/pkg/bulk"
	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/host"
	"github.com/wehubfusion/Talos/pkg/pattern"
	"github.com/wehubfusion/Talos/pkg/script"
	"github.com/wehubfusion/Talos/pkg/service"
)

const maxLineBytes = 64 << 20

type runFlags struct {
	task          service.Task
	matchTimeout  time.Duration
	scriptFile    string
	scriptSource  string
	scriptTimeout time.Duration
	encoding      string
	jsonOut       bool
}

func parseRunFlags(args []string) (*runFlags, error) {
	var f runFlags
	var op, engineName string
	count := service.DefaultReplaceCount

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&op, "op", "", "operation: "+opNames())
	fs.StringVar(&f.task.Pattern, "pattern", "", "regular expression")
	fs.StringVar(&f.task.Template, "template", "", "replacement template ($1, ${name})")
	fs.IntVar(&count, "count", count, "replacements per element, 0 for all")
	fs.StringVar(&f.task.Locale, "locale", "", "BCP 47 tag for case mapping")
	fs.IntVar(&f.task.Jobs, "jobs", 0, "worker count, 0 picks one from the input size")
	fs.BoolVar(&f.task.CaseInsensitive, "i", false, "case-insensitive matching")
	fs.StringVar(&engineName, "engine", "", "regex engine: re2 or regexp2")
	fs.DurationVar(&f.matchTimeout, "match-timeout", 0, "per-match timeout for regexp2")
	fs.StringVar(&f.scriptFile, "script-file", "", "file holding a JavaScript function")
	fs.StringVar(&f.scriptSource, "script", "", "JavaScript function source")
	fs.DurationVar(&f.scriptTimeout, "script-timeout", time.Second, "per-element script timeout")
	fs.StringVar(&f.encoding, "encoding", "utf-8", "input and output encoding")
	fs.BoolVar(&f.jsonOut, "json", false, "write one JSON value per line")

	if err := fs.Parse(args); err != nil {
		return nil, usagef("run: %v", err)
	}
	if fs.NArg() > 0 {
		return nil, usagef("run: unexpected arguments %q", fs.Args())
	}

	f.task.Op = service.Op(op)
	f.task.Count = &count
	f.task.Engine = pattern.Engine(engineName)
	f.task.MatchTimeoutMS = int(f.matchTimeout / time.Millisecond)

	if f.scriptFile != "" && f.scriptSource != "" {
		return nil, usagef("run: -script and -script-file are exclusive")
	}
	if f.scriptFile != "" {
		src, err := os.ReadFile(f.scriptFile)
		if err != nil {
			return nil, usagef("run: %v", err)
		}
		f.scriptSource = string(src)
	}
	if f.scriptSource != "" {
		f.task.Script = &script.Config{Source: f.scriptSource, Timeout: f.scriptTimeout}
	}

	if err := f.task.Validate(service.Config{MaxItems: math.MaxInt}); err != nil {
		return nil, usagef("run: %v", err)
	}
	return &f, nil
}

func opNames() string {
	names := make([]string, len(service.Ops))
	for i, op := range service.Ops {
		names[i] = string(op)
	}
	return strings.Join(names, ", ")
}

func runCommand(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, logger *zap.Logger) error {
	f, err := parseRunFlags(args)
	if err != nil {
		return err
	}
	enc, err := bulk.LookupEncoding(f.encoding)
	if err != nil {
		return usagef("run: %v", err)
	}

	lines, err := readLines(stdin, enc, isWide(f.encoding))
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	src, err := decodeLines(lines, enc, isWide(f.encoding))
	if err != nil {
		return fmt.Errorf("decoding input: %w", err)
	}

	runner, err := bulk.NewFromConfig(concurrency.LoadConfig(), logger)
	if err != nil {
		return err
	}
	out, err := service.ExecuteList(ctx, runner, &f.task, src, true)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(stdout)
	if err := writeResults(w, out, enc, f.jsonOut); err != nil {
		return err
	}
	return w.Flush()
}

// isWide reports encodings whose newline is not the single byte '\n'.
func isWide(name string) bool {
	n := strings.ReplaceAll(strings.ToLower(name), "-", "")
	return strings.HasPrefix(n, "utf16")
}

func readLines(r io.Reader, enc encoding.Encoding, wide bool) ([][]byte, error) {
	if wide {
		r = enc.NewDecoder().Reader(r)
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var lines [][]byte
	for sc.Scan() {
		line := bytes.TrimSuffix(sc.Bytes(), []byte{'\r'})
		lines = append(lines, bytes.Clone(line))
	}
	return lines, sc.Err()
}

func decodeLines(lines [][]byte, enc encoding.Encoding, wide bool) (*host.List, error) {
	if wide {
		// Already decoded while reading.
		return bulk.DecodeList(lines, unicode.UTF8)
	}
	return bulk.DecodeList(lines, enc)
}

func writeResults(w io.Writer, out *host.List, enc encoding.Encoding, jsonOut bool) error {
	newline, err := enc.NewEncoder().String("\n")
	if err != nil {
		return err
	}
	if jsonOut || !allText(out) {
		e := json.NewEncoder(w)
		for i := 0; i < out.Len(); i++ {
			if err := e.Encode(host.ToGo(out.Get(i))); err != nil {
				return err
			}
		}
		return nil
	}

	encoded, err := bulk.EncodeList(out, enc)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	for _, line := range encoded {
		if _, err := w.Write(line); err != nil {
			return err
		}
		if _, err := io.WriteString(w, newline); err != nil {
			return err
		}
	}
	return nil
}

func allText(l *host.List) bool {
	for i := 0; i < l.Len(); i++ {
		if _, ok := l.Get(i).(*host.Text); !ok {
			return false
		}
	}
	return true
}
