package bulk

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/engine"
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/host"
	"github.com/wehubfusion/Talos/pkg/pattern"
	"github.com/wehubfusion/Talos/pkg/script"
	"github.com/wehubfusion/Talos/pkg/transcode"
)

var jobsCases = []int{1, 4}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	logger := zaptest.NewLogger(t)
	e, err := engine.New(engine.Config{}, logger)
	require.NoError(t, err)
	return New(e, &concurrency.Config{MaxJobs: 4, AutoJobsMin: 1000}, logger)
}

func opts(jobs int) Options { return Options{Jobs: jobs} }

func TestASCIIUpper_EndToEnd(t *testing.T) {
	r := newTestRunner(t)
	for _, jobs := range jobsCases {
		src := host.NewTextList("abc", "déjà", "", "漢字")
		out, err := r.ASCIIUpper(context.Background(), src, opts(jobs))
		require.NoError(t, err)
		assert.Equal(t, []string{"ABC", "déjà", "", "漢字"}, out.Strings(), "jobs=%d", jobs)
	}
}

func TestJobs(t *testing.T) {
	r := newTestRunner(t)
	assert.Equal(t, 1, r.Jobs(0, 999))
	assert.Equal(t, 4, r.Jobs(0, 1000))
	assert.Equal(t, 3, r.Jobs(3, 10))

	defer func() {
		rec := recover()
		require.NotNil(t, rec)
		assert.True(t, sdkerrors.IsCode(rec.(error), sdkerrors.CodePrecondition))
	}()
	r.Jobs(-1, 10)
}

func TestFind(t *testing.T) {
	r := newTestRunner(t)
	for _, jobs := range jobsCases {
		out, err := r.Find(context.Background(), host.NewTextList("hello world", "test 123", "", "цена 42€"), `\d+`, opts(jobs))
		require.NoError(t, err)
		assert.Equal(t, []string{"", "123", "", "42"}, out.Strings())
	}

	out, err := r.Find(context.Background(), host.NewTextList("Hello", "hello", "HELLO"), `hello`, Options{CaseInsensitive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", "hello", "HELLO"}, out.Strings())
}

func TestFind_AllEngines(t *testing.T) {
	r := newTestRunner(t)
	for _, eng := range []pattern.Engine{pattern.EngineRE2, pattern.EngineRegexp2} {
		out, err := r.Find(context.Background(), host.NewTextList("漢字abc", "xyz"), `[a-c]+`, Options{Jobs: 2, Engine: eng})
		require.NoError(t, err)
		assert.Equal(t, []string{"abc", ""}, out.Strings(), eng)
	}
}

func TestPatternCompileFailsBeforeDispatch(t *testing.T) {
	r := newTestRunner(t)
	src := host.NewTextList("a", "b")

	ops := map[string]func() (*host.List, error){
		"find":     func() (*host.List, error) { return r.Find(context.Background(), src, "(", opts(2)) },
		"is_match": func() (*host.List, error) { return r.IsMatch(context.Background(), src, "(", opts(2)) },
		"capture":  func() (*host.List, error) { return r.Capture(context.Background(), src, "(", opts(2)) },
		"named":    func() (*host.List, error) { return r.CaptureNamed(context.Background(), src, "(", opts(2)) },
		"split":    func() (*host.List, error) { return r.Split(context.Background(), src, "(", opts(2)) },
		"replace":  func() (*host.List, error) { return r.Replace(context.Background(), src, "(", "x", 0, opts(2)) },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			out, err := op()
			require.Error(t, err)
			assert.Nil(t, out)
			assert.True(t, errors.Is(err, sdkerrors.ErrPatternCompile))
			var ce *pattern.CompileError
			assert.True(t, errors.As(err, &ce))
		})
	}
	assert.Zero(t, r.Engine().Stats().Batches, "no batch may start")
}

func TestIsMatch(t *testing.T) {
	r := newTestRunner(t)
	for _, jobs := range jobsCases {
		out, err := r.IsMatch(context.Background(), host.NewTextList("test123", "hello", ""), `\d+`, opts(jobs))
		require.NoError(t, err)
		assert.Equal(t, []any{true, false, false}, host.ToGo(out))
	}
}

func TestCapture(t *testing.T) {
	r := newTestRunner(t)
	for _, jobs := range jobsCases {
		out, err := r.Capture(context.Background(), host.NewTextList("test 123", "no match", "ac"), `(\w+) (\d+)|(a)(b)?c`, opts(jobs))
		require.NoError(t, err)
		assert.Equal(t, []any{
			[]any{"test 123", "test", "123", "", ""},
			[]any{},
			[]any{"ac", "", "", "a", ""},
		}, host.ToGo(out))
	}
}

func TestCaptureNamed(t *testing.T) {
	r := newTestRunner(t)
	items := make([]string, 50)
	for i := range items {
		items[i] = fmt.Sprintf("user%d@host%d", i, i%3)
	}
	items[10] = "nobody"

	for _, jobs := range jobsCases {
		out, err := r.CaptureNamed(context.Background(), host.NewTextList(items...), `(?P<user>\w+)@(?P<host>\w+)`, opts(jobs))
		require.NoError(t, err)
		got := host.ToGo(out).([]any)
		assert.Equal(t, map[string]any{"user": "user0", "host": "host0"}, got[0])
		assert.Equal(t, map[string]any{}, got[10])
		assert.Equal(t, map[string]any{"user": "user49", "host": "host1"}, got[49])
	}
}

func TestSplit(t *testing.T) {
	r := newTestRunner(t)
	for _, jobs := range jobsCases {
		out, err := r.Split(context.Background(), host.NewTextList("a,b;c", "x,,y", "", "привет мир"), `[,; ]`, opts(jobs))
		require.NoError(t, err)
		assert.Equal(t, []any{
			[]any{"a", "b", "c"},
			[]any{"x", "", "y"},
			[]any{""},
			[]any{"привет", "мир"},
		}, host.ToGo(out))
	}
}

func TestReplace(t *testing.T) {
	r := newTestRunner(t)
	src := []string{"test string with test and more test content"}
	tests := []struct {
		count int
		want  string
	}{
		{0, "MATCHED with test and more MATCHED"},
		{1, "MATCHED with test and more test content"},
		{2, "MATCHED with test and more MATCHED"},
	}
	for _, tt := range tests {
		for _, jobs := range jobsCases {
			out, err := r.Replace(context.Background(), host.NewTextList(src...), `[Tt]est\s+\w{6,}`, "MATCHED", tt.count, opts(jobs))
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, out.Strings(), "count=%d", tt.count)
		}
	}

	out, err := r.Replace(context.Background(), host.NewTextList("2024-01-31"), `(\d+)-(\d+)-(\d+)`, "${3}/${2}/${1}", 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"31/01/2024"}, out.Strings())
}

func TestReplace_NegativeCountPanics(t *testing.T) {
	r := newTestRunner(t)
	defer func() {
		rec := recover()
		require.NotNil(t, rec)
		assert.True(t, sdkerrors.IsCode(rec.(error), sdkerrors.CodePrecondition))
	}()
	_, _ = r.Replace(context.Background(), host.NewTextList("a"), "a", "b", -1, Options{})
}

func TestInPlace(t *testing.T) {
	r := newTestRunner(t)
	src := host.NewTextList("one 1", "two 2")
	out, err := r.Replace(context.Background(), src, `\d`, "#", 0, Options{Jobs: 2, InPlace: true})
	require.NoError(t, err)
	assert.Same(t, src, out)
	assert.Equal(t, []string{"one #", "two #"}, src.Strings())
}

func TestCaseMapping(t *testing.T) {
	r := newTestRunner(t)
	src := []string{"déjà vu", "straße", "ǆemal", "ıi"}
	ctx := context.Background()

	for _, jobs := range jobsCases {
		up, err := r.Upper(ctx, host.NewTextList(src...), language.Und, opts(jobs))
		require.NoError(t, err)
		assert.Equal(t, []string{"DÉJÀ VU", "STRASSE", "ǄEMAL", "II"}, up.Strings())

		low, err := r.Lower(ctx, host.NewTextList("DÉJÀ", "İ"), language.Turkish, opts(jobs))
		require.NoError(t, err)
		assert.Equal(t, []string{"déjà", "i"}, low.Strings())

		title, err := r.Title(ctx, host.NewTextList("hello world", "ǆemal"), language.Und, opts(jobs))
		require.NoError(t, err)
		assert.Equal(t, []string{"Hello World", "ǅemal"}, title.Strings())
	}
}

func TestCopy_ReencodesAtMinimalWidth(t *testing.T) {
	r := newTestRunner(t)
	src := host.NewList(
		host.NewUCS4([]uint32{'a', 'b'}),
		host.NewUCS2([]uint16{0xE9}),
		host.NewUCS2([]uint16{0x6F22}),
	)
	out, err := r.Copy(context.Background(), src, opts(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "é", "漢"}, out.Strings())

	widths := []transcode.Width{transcode.Width1, transcode.Width1, transcode.Width2}
	for i, w := range widths {
		assert.Equal(t, w, out.Get(i).(*host.Text).Width(), "item %d", i)
	}
}

func TestScript(t *testing.T) {
	r := newTestRunner(t)
	items := make([]string, 20)
	for i := range items {
		items[i] = fmt.Sprintf(" Item-%d ", i)
	}
	for _, jobs := range jobsCases {
		out, err := r.Script(context.Background(), host.NewTextList(items...), script.Config{Source: "s => s.trim().toLowerCase()"}, opts(jobs))
		require.NoError(t, err)
		assert.Equal(t, "item-0", out.Strings()[0])
		assert.Equal(t, "item-19", out.Strings()[19])
	}
}

func TestScript_Errors(t *testing.T) {
	r := newTestRunner(t)
	src := host.NewTextList("a", "boom", "c")

	_, err := r.Script(context.Background(), src, script.Config{Source: "s => {"}, opts(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sdkerrors.ErrScriptCompile))

	_, err = r.Script(context.Background(), src, script.Config{Source: "s => { if (s === 'boom') throw new Error('x'); return s }"}, opts(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sdkerrors.ErrWorkerFault))

	_, err = r.Script(context.Background(), src, script.Config{
		Source:  "s => { if (s === 'boom') { while (true) {} } return s }",
		Timeout: 20 * time.Millisecond,
	}, opts(1))
	require.Error(t, err)
	var fault *sdkerrors.WorkerFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, 1, fault.Index)
}

func TestEncodingRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input []string
	}{
		{"latin1", []string{"abc", "déjà", ""}},
		{"utf-16le", []string{"漢字", "a😀"}},
		{"utf-8", []string{"plain", "ÿ"}},
		{"windows-1252", []string{"price €5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := LookupEncoding(tt.name)
			require.NoError(t, err)

			raw := make([][]byte, len(tt.input))
			for i, s := range tt.input {
				b, err := enc.NewEncoder().String(s)
				require.NoError(t, err)
				raw[i] = []byte(b)
			}

			l, err := DecodeList(raw, enc)
			require.NoError(t, err)
			assert.Equal(t, tt.input, l.Strings())

			back, err := EncodeList(l, enc)
			require.NoError(t, err)
			assert.Equal(t, raw, back)
		})
	}
}

func TestDecodeList_Latin1IsOneByteText(t *testing.T) {
	l, err := DecodeList([][]byte{{'c', 'a', 'f', 0xE9}}, charmap.ISO8859_1)
	require.NoError(t, err)
	text := l.Get(0).(*host.Text)
	assert.Equal(t, transcode.Width1, text.Width())
	assert.Equal(t, "café", text.String())

	_, err = EncodeList(host.NewTextList("漢"), charmap.ISO8859_1)
	assert.Error(t, err)

	_, err = LookupEncoding("klingon")
	assert.Error(t, err)
}
