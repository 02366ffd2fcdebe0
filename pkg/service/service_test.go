package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wehubfusion/Talos/pkg/bulk"
	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/engine"
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/script"
	"github.com/wehubfusion/Talos/pkg/storage"
)

func newTestService(t *testing.T, cfg Config, store storage.BlobStore) *Service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	e, err := engine.New(engine.Config{}, logger)
	require.NoError(t, err)
	runner := bulk.New(e, &concurrency.Config{MaxJobs: 4, AutoJobsMin: 1000}, logger)
	svc, err := New(runner, cfg, store, logger)
	require.NoError(t, err)
	return svc
}

func intPtr(v int) *int { return &v }

func decodeReply(t *testing.T, data []byte) *Reply {
	t.Helper()
	var reply Reply
	require.NoError(t, json.Unmarshal(data, &reply))
	return &reply
}

func TestHandle_EndToEnd(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	for _, jobs := range []int{1, 4} {
		req, err := json.Marshal(Request{ID: "r1", Task: Task{
			Op:    OpASCIIUpper,
			Items: []string{"abc", "déjà", "", "漢字"},
			Jobs:  jobs,
		}})
		require.NoError(t, err)

		reply := decodeReply(t, svc.Handle(context.Background(), req))
		require.Nil(t, reply.Error)
		assert.Equal(t, "r1", reply.ID)
		assert.Equal(t, []any{"ABC", "déjà", "", "漢字"}, reply.Results)
	}
}

func TestProcess_Ops(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	items := []string{"a1b22", "none", "x333"}

	tests := []struct {
		name string
		task Task
		want []any
	}{
		{"find", Task{Op: OpFind, Pattern: `\d+`}, []any{"1", "", "333"}},
		{"is_match", Task{Op: OpIsMatch, Pattern: `\d`}, []any{true, false, true}},
		{"capture", Task{Op: OpCapture, Pattern: `([a-z])(\d)`}, []any{
			[]any{"a1", "a", "1"}, []any{}, []any{"x3", "x", "3"},
		}},
		{"capture_named", Task{Op: OpCaptureNamed, Pattern: `(?P<letter>[a-z])(?P<digit>\d)`}, []any{
			map[string]any{"letter": "a", "digit": "1"},
			map[string]any{},
			map[string]any{"letter": "x", "digit": "3"},
		}},
		{"split", Task{Op: OpSplit, Pattern: `\d+`}, []any{
			[]any{"a", "b", ""}, []any{"none"}, []any{"x", ""},
		}},
		{"replace defaults to first", Task{Op: OpReplace, Pattern: `\d`, Template: "#"}, []any{"a#b22", "none", "x#33"}},
		{"replace all", Task{Op: OpReplace, Pattern: `\d`, Template: "#", Count: intPtr(0)}, []any{"a#b##", "none", "x###"}},
		{"replace two", Task{Op: OpReplace, Pattern: `\d`, Template: "#", Count: intPtr(2)}, []any{"a#b#2", "none", "x##3"}},
		{"upper", Task{Op: OpUpper}, []any{"A1B22", "NONE", "X333"}},
		{"title", Task{Op: OpTitle, Locale: "en"}, []any{"A1b22", "None", "X333"}},
		{"copy", Task{Op: OpCopy}, []any{"a1b22", "none", "x333"}},
		{"regexp2", Task{Op: OpFind, Pattern: `[a-z](?=\d{2})`, Engine: "regexp2"}, []any{"b", "", "x"}},
		{"script", Task{Op: OpScript, Script: &script.Config{Source: "s => s.length"}}, []any{"5", "4", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.task
			task.Items = items
			task.Jobs = 2
			reply := svc.Process(context.Background(), &Request{Task: task})
			require.Nil(t, reply.Error, "%+v", reply.Error)
			assert.NotEmpty(t, reply.ID)
			assert.Equal(t, tt.want, reply.Results)
		})
	}
}

func TestProcess_InvalidRequests(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxItems = 2
	cfg.MaxTasks = 1
	svc := newTestService(t, cfg, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"missing op", Request{Task: Task{Items: []string{"a"}}}},
		{"unknown op", Request{Task: Task{Op: "reverse"}}},
		{"missing pattern", Request{Task: Task{Op: OpFind}}},
		{"missing script", Request{Task: Task{Op: OpScript}}},
		{"too many items", Request{Task: Task{Op: OpCopy, Items: []string{"a", "b", "c"}}}},
		{"negative jobs", Request{Task: Task{Op: OpCopy, Jobs: -1}}},
		{"negative count", Request{Task: Task{Op: OpReplace, Pattern: "a", Count: intPtr(-2)}}},
		{"bad engine", Request{Task: Task{Op: OpFind, Pattern: "a", Engine: "hyperscan"}}},
		{"bad locale", Request{Task: Task{Op: OpUpper, Locale: "not a locale!"}}},
		{"op and tasks", Request{Task: Task{Op: OpCopy}, Tasks: []Task{{Op: OpCopy}}}},
		{"too many tasks", Request{Tasks: []Task{{Op: OpCopy}, {Op: OpCopy}}}},
		{"bad task", Request{Tasks: []Task{{Op: "nope"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := svc.Process(context.Background(), &tt.req)
			require.NotNil(t, reply.Error)
			assert.Equal(t, sdkerrors.CodeInvalidRequest, reply.Error.Code, reply.Error.Message)
			assert.Nil(t, reply.Results)
		})
	}
}

func TestHandle_ReplaceCountFromJSON(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"omitted", `{"op":"replace","pattern":"a","template":"b","items":["aaa"]}`, "baa"},
		{"zero", `{"op":"replace","pattern":"a","template":"b","count":0,"items":["aaa"]}`, "bbb"},
		{"two", `{"op":"replace","pattern":"a","template":"b","count":2,"items":["aaa"]}`, "bba"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := decodeReply(t, svc.Handle(context.Background(), []byte(tt.body)))
			require.Nil(t, reply.Error)
			assert.Equal(t, []any{tt.want}, reply.Results)
		})
	}
}

func TestHandle_MalformedJSON(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	reply := decodeReply(t, svc.Handle(context.Background(), []byte("{not json")))
	require.NotNil(t, reply.Error)
	assert.Equal(t, sdkerrors.CodeInvalidRequest, reply.Error.Code)
	assert.NotEmpty(t, reply.ID)
	assert.Equal(t, int64(1), svc.Stats().Failed)
}

func TestProcess_PatternCompileError(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	reply := svc.Process(context.Background(), &Request{Task: Task{Op: OpFind, Pattern: "(", Items: []string{"a"}}})
	require.NotNil(t, reply.Error)
	assert.Equal(t, sdkerrors.CodePatternCompile, reply.Error.Code)
}

func TestProcess_WorkerFaultCarriesIndex(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	reply := svc.Process(context.Background(), &Request{Task: Task{
		Op:     OpScript,
		Items:  []string{"ok", "ok", "bad", "ok"},
		Script: &script.Config{Source: "s => { if (s === 'bad') throw new Error('no'); return s }"},
	}})
	require.NotNil(t, reply.Error)
	assert.Equal(t, sdkerrors.CodeWorkerFault, reply.Error.Code)
	require.NotNil(t, reply.Error.Index)
	assert.Equal(t, 2, *reply.Error.Index)
	require.NotNil(t, reply.Error.Worker)
}

func TestFaultReporter(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	var mu sync.Mutex
	var reported []string
	svc.SetFaultReporter(func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, id+":"+sdkerrors.Code(err))
	})

	svc.Process(context.Background(), &Request{ID: "bad", Task: Task{Op: OpFind}})
	svc.Process(context.Background(), &Request{ID: "fault", Task: Task{
		Op:     OpScript,
		Items:  []string{"x"},
		Script: &script.Config{Source: "s => { throw 1 }"},
	}})
	assert.Equal(t, []string{"fault:" + sdkerrors.CodeWorkerFault}, reported)
}

func TestProcess_MultiTask(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	reply := svc.Process(context.Background(), &Request{ID: "multi", Tasks: []Task{
		{Op: OpASCIIUpper, Items: []string{"abc"}},
		{Op: OpFind, Pattern: "(", Items: []string{"abc"}},
		{Op: OpIsMatch, Pattern: "b", Items: []string{"abc", "xyz"}},
	}})
	require.Nil(t, reply.Error)
	assert.Equal(t, "multi", reply.ID)
	require.Len(t, reply.Tasks, 3)

	assert.Equal(t, []any{"ABC"}, reply.Tasks[0].Results)
	require.NotNil(t, reply.Tasks[1].Error)
	assert.Equal(t, sdkerrors.CodePatternCompile, reply.Tasks[1].Error.Code)
	assert.Equal(t, []any{true, false}, reply.Tasks[2].Results)
}

func TestProcess_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTimeout = time.Nanosecond
	svc := newTestService(t, cfg, nil)

	items := make([]string, 5000)
	for i := range items {
		items[i] = "abc"
	}
	time.Sleep(time.Millisecond)
	reply := svc.Process(context.Background(), &Request{Task: Task{Op: OpCopy, Items: items, Jobs: 4}})
	require.NotNil(t, reply.Error)
	assert.Equal(t, sdkerrors.CodeCancelled, reply.Error.Code)
}

func TestHandle_OffloadsLargeReplies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InlineLimit = 256
	store := storage.NewMemoryStore()
	svc := newTestService(t, cfg, store)

	items := make([]string, 100)
	for i := range items {
		items[i] = strings.Repeat("x", 10)
	}
	req, err := json.Marshal(Request{ID: "big", Task: Task{Op: OpASCIIUpper, Items: items}})
	require.NoError(t, err)

	out := svc.Handle(context.Background(), req)
	assert.LessOrEqual(t, len(out), cfg.InlineLimit)

	reply := decodeReply(t, out)
	require.Nil(t, reply.Error)
	require.NotNil(t, reply.Blob)
	assert.Equal(t, "big", reply.ID)
	assert.Nil(t, reply.Results)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int64(1), svc.Stats().Offloaded)

	data, err := store.Download(context.Background(), reply.Blob.URL)
	require.NoError(t, err)
	assert.Equal(t, reply.Blob.Size, len(data))
	full := decodeReply(t, data)
	require.Len(t, full.Results, 100)
	assert.Equal(t, strings.Repeat("X", 10), full.Results[0])
}

func TestHandle_OffloadIgnoresRequestIDForBlobName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InlineLimit = 64
	store := storage.NewMemoryStore()
	svc := newTestService(t, cfg, store)

	urls := map[string]bool{}
	for _, id := range []string{"dup", "dup", "../../outside"} {
		req, err := json.Marshal(Request{ID: id, Task: Task{Op: OpCopy, Items: []string{strings.Repeat("z", 100)}}})
		require.NoError(t, err)
		reply := decodeReply(t, svc.Handle(context.Background(), req))
		require.Nil(t, reply.Error)
		require.NotNil(t, reply.Blob)
		assert.Equal(t, id, reply.ID)
		assert.NotContains(t, reply.Blob.URL, "..")
		assert.NotContains(t, reply.Blob.URL, "dup")
		urls[reply.Blob.URL] = true
	}
	assert.Len(t, urls, 3)
	assert.Equal(t, 3, store.Len())
}

func TestHandle_LargeReplyInlineWithoutStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InlineLimit = 64
	svc := newTestService(t, cfg, nil)

	req, err := json.Marshal(Request{Task: Task{Op: OpCopy, Items: []string{strings.Repeat("y", 100)}}})
	require.NoError(t, err)
	reply := decodeReply(t, svc.Handle(context.Background(), req))
	assert.Nil(t, reply.Blob)
	assert.Len(t, reply.Results, 1)
}

// fakeSub drains asynchronously like a NATS subscription: Drain returns at
// once and the subscription turns invalid after delay.
type fakeSub struct {
	mu      sync.Mutex
	delay   time.Duration
	drained bool
}

func (s *fakeSub) Drain() error {
	go func() {
		time.Sleep(s.delay)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.drained = true
	}()
	return nil
}

func (s *fakeSub) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.drained
}

type fakeConn struct {
	subject, queue string
	handler        func(*Msg)
	sub            *fakeSub
	drainDelay     time.Duration
}

func (c *fakeConn) QueueSubscribe(subject, queue string, handler func(*Msg)) (Subscription, error) {
	c.subject, c.queue, c.handler = subject, queue, handler
	c.sub = &fakeSub{delay: c.drainDelay}
	return c.sub, nil
}

// send delivers data and returns the channel its reply arrives on.
func (c *fakeConn) send(data []byte) <-chan []byte {
	replies := make(chan []byte, 1)
	c.handler(NewMsg(c.subject, nats.Header{}, data, func(b []byte) error {
		replies <- b
		return nil
	}))
	return replies
}

func awaitReply(t *testing.T, replies <-chan []byte) *Reply {
	t.Helper()
	select {
	case b := <-replies:
		return decodeReply(t, b)
	case <-time.After(10 * time.Second):
		t.Fatal("no reply")
		return nil
	}
}

func (c *fakeConn) request(t *testing.T, data []byte) *Reply {
	t.Helper()
	return awaitReply(t, c.send(data))
}

// slowRequest builds a script request that takes about perItem for each
// of n items on one worker.
func slowRequest(t *testing.T, n int, perItem time.Duration) []byte {
	t.Helper()
	items := make([]string, n)
	for i := range items {
		items[i] = "abc"
	}
	src := fmt.Sprintf("s => { const end = Date.now() + %d; while (Date.now() < end) {} return s.toUpperCase() }", perItem.Milliseconds())
	req, err := json.Marshal(Request{Task: Task{
		Op:     OpScript,
		Items:  items,
		Jobs:   1,
		Script: &script.Config{Source: src, Timeout: 10 * time.Second},
	}})
	require.NoError(t, err)
	return req
}

func TestStartStop(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	conn := &fakeConn{}
	require.NoError(t, svc.Start(context.Background(), conn))
	assert.Equal(t, DefaultSubject, conn.subject)
	assert.Equal(t, "talos", conn.queue)
	assert.Error(t, svc.Start(context.Background(), conn), "second start is rejected")

	req, err := json.Marshal(Request{Task: Task{Op: OpASCIIUpper, Items: []string{"abc", "déjà"}}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := conn.request(t, req)
			assert.Equal(t, []any{"ABC", "déjà"}, reply.Results)
		}()
	}
	wg.Wait()

	require.NoError(t, svc.Stop())
	assert.False(t, conn.sub.IsValid())
	assert.Equal(t, int64(8), svc.Stats().Handled)
	assert.NoError(t, svc.Stop(), "stop is idempotent")
}

func TestStop_DrainsInFlightRequests(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	conn := &fakeConn{drainDelay: 20 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx, conn))

	replies := conn.send(slowRequest(t, 4, 50*time.Millisecond))
	require.Eventually(t, func() bool { return len(svc.inFlight) == 1 }, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, svc.Stop())

	select {
	case b := <-replies:
		reply := decodeReply(t, b)
		require.Nil(t, reply.Error, "%+v", reply.Error)
		assert.Equal(t, []any{"ABC", "ABC", "ABC", "ABC"}, reply.Results)
	default:
		t.Fatal("stop returned before the in-flight request was answered")
	}
	assert.False(t, conn.sub.IsValid())
}

func TestStop_CancelsAfterDrainTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DrainTimeout = 50 * time.Millisecond
	svc := newTestService(t, cfg, nil)
	conn := &fakeConn{}
	require.NoError(t, svc.Start(context.Background(), conn))

	replies := conn.send(slowRequest(t, 500, 20*time.Millisecond))
	require.Eventually(t, func() bool { return len(svc.inFlight) == 1 }, 5*time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, svc.Stop())
	assert.Less(t, time.Since(start), 5*time.Second)

	reply := awaitReply(t, replies)
	require.NotNil(t, reply.Error)
	assert.Equal(t, sdkerrors.CodeCancelled, reply.Error.Code)
}

func TestStop_RefusesLateMessages(t *testing.T) {
	svc := newTestService(t, DefaultConfig(), nil)
	conn := &fakeConn{}
	require.NoError(t, svc.Start(context.Background(), conn))
	require.NoError(t, svc.Stop())

	req, err := json.Marshal(Request{Task: Task{Op: OpCopy, Items: []string{"a"}}})
	require.NoError(t, err)
	reply := conn.request(t, req)
	require.NotNil(t, reply.Error)
	assert.Equal(t, sdkerrors.CodeUnavailable, reply.Error.Code)
}

func TestMsg_RespondWithoutReply(t *testing.T) {
	msg := NewMsg("talos.batch", nil, nil, nil)
	assert.ErrorIs(t, msg.Respond([]byte("x")), nats.ErrMsgNoReply)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, DefaultConfig(), nil, nil)
	assert.Error(t, err)

	e, err := engine.New(engine.Config{}, nil)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Subject = ""
	_, err = New(bulk.New(e, nil, nil), cfg, nil, nil)
	assert.Error(t, err)
}
