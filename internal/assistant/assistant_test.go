package assistant_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepakdriver/lepakdriver/internal/assistant"
	"github.com/lepakdriver/lepakdriver/internal/conversation"
	"github.com/lepakdriver/lepakdriver/internal/events"
	"github.com/lepakdriver/lepakdriver/internal/llm"
	"github.com/lepakdriver/lepakdriver/internal/metrics"
	"github.com/lepakdriver/lepakdriver/internal/stops"
	"github.com/lepakdriver/lepakdriver/internal/tools"
	"github.com/lepakdriver/lepakdriver/internal/transit"
)

// scriptedModel answers each call with the next function in script.
type scriptedModel struct {
	mu       sync.Mutex
	script   []func(req llm.Request) (*llm.Completion, error)
	requests []llm.Request
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	m.mu.Lock()
	i := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if i >= len(m.script) {
		return nil, fmt.Errorf("unexpected model call %d", i+1)
	}
	return m.script[i](req)
}

func (m *scriptedModel) calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

func say(content string) func(llm.Request) (*llm.Completion, error) {
	return func(llm.Request) (*llm.Completion, error) {
		return &llm.Completion{Content: content, TotalTokens: 10}, nil
	}
}

func callTools(calls ...llm.ToolCall) func(llm.Request) (*llm.Completion, error) {
	return func(llm.Request) (*llm.Completion, error) {
		return &llm.Completion{ToolCalls: calls, TotalTokens: 20}, nil
	}
}

// echoToolResults replies with every tool result joined, like a model
// summarizing what the tools said.
func echoToolResults(req llm.Request) (*llm.Completion, error) {
	var parts []string
	for _, m := range req.Messages {
		if m.Role == llm.RoleTool {
			parts = append(parts, m.Content)
		}
	}
	return &llm.Completion{Content: "Here you go lah!\n\n" + strings.Join(parts, "\n\n")}, nil
}

func fail(err error) func(llm.Request) (*llm.Completion, error) {
	return func(llm.Request) (*llm.Completion, error) { return nil, err }
}

type fakeTransit struct {
	mu      sync.Mutex
	queries []transit.ArrivalQuery
}

func (f *fakeTransit) Name() string { return "fake" }

func (f *fakeTransit) GetArrivals(_ context.Context, q transit.ArrivalQuery) *transit.ArrivalResult {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if q.StopCode != "54261" {
		return &transit.ArrivalResult{StopCode: q.StopCode, Timestamp: time.Now()}
	}
	one, eight := 1, 8
	return &transit.ArrivalResult{
		StopCode:  q.StopCode,
		Timestamp: time.Now(),
		Services: []transit.ServiceArrival{{
			ServiceNo: "174",
			Operator:  "SBST",
			NextBuses: [3]transit.NextBus{
				{Available: true, MinutesToArrival: &one, Crowding: transit.CrowdingSeatsAvailable},
				{Available: true, MinutesToArrival: &eight, Crowding: transit.CrowdingStandingAvailable},
				{Available: true, Crowding: transit.CrowdingUnknown},
			},
		}},
	}
}

func (f *fakeTransit) GetCarparks(context.Context, transit.CarparkFilter) *transit.CarparkResult {
	return &transit.CarparkResult{Timestamp: time.Now()}
}

func (f *fakeTransit) arrivalQueries() []transit.ArrivalQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transit.ArrivalQuery(nil), f.queries...)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.TurnCompleted
}

func (r *recordingEvents) PublishTurn(_ context.Context, e events.TurnCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) Close() {}

type fixture struct {
	model   *scriptedModel
	transit *fakeTransit
	store   *conversation.MemoryStore
	convs   *conversation.Service
	events  *recordingEvents
	metrics *metrics.Collector
	asst    *assistant.Assistant
}

type fixtureOption func(*assistant.Config, *tools.Registry)

func newFixture(t *testing.T, script []func(llm.Request) (*llm.Completion, error), opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		model:   &scriptedModel{script: script},
		transit: &fakeTransit{},
		store:   conversation.NewMemoryStore(),
		events:  &recordingEvents{},
		metrics: metrics.NewCollector(),
	}

	catalog := stops.NewCatalog([]stops.StopRecord{
		{Code: "54009", RoadName: "Ang Mo Kio Ave 8", Description: "Ang Mo Kio Int"},
		{Code: "54261", RoadName: "Ang Mo Kio Ave 3", Description: "Ang Mo Kio Hub"},
		{Code: "09047", RoadName: "Orchard Rd", Description: "ION Orchard"},
	})

	registry := tools.NewRegistry(tools.RegistryConfig{Logger: zerolog.Nop(), Metrics: f.metrics})
	tools.RegisterTransitTools(registry, tools.Deps{
		Transit: f.transit,
		Matcher: stops.NewMatcher(catalog),
	})

	f.convs = conversation.NewService(conversation.ServiceConfig{
		Store:         f.store,
		Logger:        zerolog.Nop(),
		PurgeInterval: -1,
	})

	cfg := assistant.Config{
		Model:         f.model,
		Tools:         registry,
		Conversations: f.convs,
		Events:        f.events,
		Metrics:       f.metrics,
		Logger:        zerolog.Nop(),
		SystemPrompt:  "You are a test assistant.",
	}
	for _, opt := range opts {
		opt(&cfg, registry)
	}

	f.asst = assistant.New(cfg)
	return f
}

func (f *fixture) history(t *testing.T, userID string) []conversation.Turn {
	t.Helper()
	turns, err := f.convs.Load(context.Background(), userID)
	require.NoError(t, err)
	return turns
}

func TestHandle_DirectReply(t *testing.T) {
	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){
		say("Hello! I can help with buses and parking."),
	})

	reply := f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: "  hi  "})

	assert.False(t, reply.Failed)
	assert.Equal(t, "Hello! I can help with buses and parking.", reply.Text)

	calls := f.model.calls()
	require.Len(t, calls, 1, "no second call without tool calls")
	assert.Len(t, calls[0].Tools, 4)
	assert.Equal(t, llm.ToolChoiceAuto, calls[0].ToolChoice)
	assert.InDelta(t, assistant.DefaultTemperature, calls[0].Temperature, 1e-6)
	assert.Equal(t, assistant.DefaultMaxTokens, calls[0].MaxTokens)
	require.Len(t, calls[0].Messages, 2)
	assert.Equal(t, llm.SystemMessage("You are a test assistant."), calls[0].Messages[0])
	assert.Equal(t, llm.UserMessage("hi"), calls[0].Messages[1])

	history := f.history(t, "42")
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].User)
	assert.Empty(t, history[0].ToolCalls)
}

func TestHandle_ToolCallTriggersOneSecondCall(t *testing.T) {
	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){
		callTools(
			llm.ToolCall{ID: "call_a", Name: tools.ToolGetBusArrival, Arguments: `{"bus_stop_code":"54261"}`},
			llm.ToolCall{ID: "call_b", Name: tools.ToolFindBusStopsByLocation, Arguments: `{"location_query":"ION Orchard"}`},
		),
		say("Bus 174 coming in 1 minute."),
	})

	reply := f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: "bus at 54261?"})
	require.False(t, reply.Failed)
	assert.Equal(t, "Bus 174 coming in 1 minute.", reply.Text)

	calls := f.model.calls()
	require.Len(t, calls, 2)

	second := calls[1]
	assert.Empty(t, second.Tools, "follow-up call offers no tools")
	assert.Empty(t, second.ToolChoice)

	msgs := second.Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 2)
	assert.Equal(t, llm.RoleTool, msgs[3].Role)
	assert.Equal(t, "call_a", msgs[3].ToolCallID)
	assert.Contains(t, msgs[3].Content, "Service 174")
	assert.Equal(t, "call_b", msgs[4].ToolCallID)
	assert.Contains(t, msgs[4].Content, "ION Orchard")

	history := f.history(t, "42")
	require.Len(t, history, 1)
	require.Len(t, history[0].ToolCalls, 2)
	assert.Equal(t, tools.ToolGetBusArrival, history[0].ToolCalls[0].Function)
	assert.JSONEq(t, `{"bus_stop_code":"54261"}`, string(history[0].ToolCalls[0].Args))
	assert.Empty(t, history[0].ToolCalls[0].Error)
}

func TestHandle_ToolErrorPassesThrough(t *testing.T) {
	boom := func(_ *assistant.Config, r *tools.Registry) {
		tools.Register(r, "explode", "always fails", json.RawMessage(`{"type":"object"}`),
			func(context.Context, struct{}) (tools.Result, error) {
				return tools.Result{}, errors.New("kaboom")
			})
	}

	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){
		callTools(
			llm.ToolCall{ID: "c1", Name: "explode", Arguments: `{}`},
			llm.ToolCall{ID: "c2", Name: "no_such_tool", Arguments: `{}`},
		),
		echoToolResults,
	}, boom)

	reply := f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: "try it"})
	require.False(t, reply.Failed, "tool failures do not fail the turn")

	calls := f.model.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "Error executing explode: kaboom", calls[1].Messages[3].Content)
	assert.Equal(t, "Unknown function: no_such_tool", calls[1].Messages[4].Content)
	assert.Contains(t, reply.Text, "Error executing explode: kaboom")

	history := f.history(t, "42")
	require.Len(t, history, 1)
	require.Len(t, history[0].ToolCalls, 2)
	assert.Equal(t, "kaboom", history[0].ToolCalls[0].Error)
	assert.NotEmpty(t, history[0].ToolCalls[1].Error)
}

func TestHandle_FailuresAreNotPersisted(t *testing.T) {
	tests := []struct {
		name       string
		script     []func(llm.Request) (*llm.Completion, error)
		modelCalls int
	}{
		{
			name:       "first call fails",
			script:     []func(llm.Request) (*llm.Completion, error){fail(errors.New("503 from model"))},
			modelCalls: 1,
		},
		{
			name: "second call fails",
			script: []func(llm.Request) (*llm.Completion, error){
				callTools(llm.ToolCall{ID: "c1", Name: tools.ToolGetBusArrival, Arguments: `{"bus_stop_code":"54261"}`}),
				fail(errors.New("timeout")),
			},
			modelCalls: 2,
		},
		{
			name: "model panics",
			script: []func(llm.Request) (*llm.Completion, error){
				func(llm.Request) (*llm.Completion, error) { panic("nil map") },
			},
			modelCalls: 1,
		},
		{
			name:       "empty reply",
			script:     []func(llm.Request) (*llm.Completion, error){say("   ")},
			modelCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.script)

			reply := f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: "hello"})

			assert.True(t, reply.Failed)
			assert.Equal(t, assistant.FallbackReply, reply.Text)
			assert.NotContains(t, reply.Text, "503")
			assert.Len(t, f.model.calls(), tt.modelCalls)
			assert.Empty(t, f.history(t, "42"))
			assert.Empty(t, f.events.events)
		})
	}
}

func TestHandle_NilCompletionIsModelError(t *testing.T) {
	nothing := func(llm.Request) (*llm.Completion, error) { return nil, nil }

	tests := []struct {
		name   string
		script []func(llm.Request) (*llm.Completion, error)
		pass   string
	}{
		{"first pass", []func(llm.Request) (*llm.Completion, error){nothing}, "first"},
		{"second pass", []func(llm.Request) (*llm.Completion, error){
			callTools(llm.ToolCall{ID: "c1", Name: tools.ToolGetBusArrival, Arguments: `{"bus_stop_code":"54261"}`}),
			nothing,
		}, "second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.script)

			reply := f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: "hello"})

			assert.True(t, reply.Failed)
			assert.Equal(t, assistant.FallbackReply, reply.Text)
			assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ModelCalls.WithLabelValues(tt.pass, "error")), 0)
			assert.Empty(t, f.history(t, "42"))
		})
	}
}

func TestHandle_HistoryReplaysTextOnly(t *testing.T) {
	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){
		callTools(llm.ToolCall{ID: "c1", Name: tools.ToolGetBusArrival, Arguments: `{"bus_stop_code":"54261"}`}),
		say("Bus 174 in 1 minute."),
		say("You're welcome!"),
	})
	ctx := context.Background()

	f.asst.Handle(ctx, assistant.Message{UserID: "42", Text: "bus at 54261"})
	f.asst.Handle(ctx, assistant.Message{UserID: "42", Text: "thanks"})

	calls := f.model.calls()
	require.Len(t, calls, 3)

	third := calls[2].Messages
	require.Len(t, third, 4)
	assert.Equal(t, llm.UserMessage("bus at 54261"), third[1])
	assert.Equal(t, llm.AssistantMessage("Bus 174 in 1 minute."), third[2])
	assert.Equal(t, llm.UserMessage("thanks"), third[3])
	for _, m := range third {
		assert.NotEqual(t, llm.RoleTool, m.Role)
		assert.Empty(t, m.ToolCalls)
	}
}

func TestHandle_HistoryIsPerUser(t *testing.T) {
	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){say("a"), say("b")})
	ctx := context.Background()

	f.asst.Handle(ctx, assistant.Message{UserID: "1", Text: "first user"})
	f.asst.Handle(ctx, assistant.Message{UserID: "2", Text: "second user"})

	calls := f.model.calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].Messages, 2, "user 2 does not see user 1's history")
}

func TestHandle_EmptyMessage(t *testing.T) {
	f := newFixture(t, nil)

	reply := f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: " \n\t"})
	assert.Equal(t, assistant.EmptyReply, reply.Text)
	assert.False(t, reply.Failed)
	assert.Empty(t, f.model.calls())
	assert.Empty(t, f.history(t, "42"))
}

func TestHandle_BusAtNamedPlace(t *testing.T) {
	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){
		callTools(llm.ToolCall{
			ID:        "call_1",
			Name:      tools.ToolGetBusArrivalsByLocation,
			Arguments: `{"location_query":"Ang Mo Kio Hub","service_no":"174"}`,
		}),
		echoToolResults,
	})

	reply := f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: "bus 174 at Ang Mo Kio Hub"})
	require.False(t, reply.Failed)

	queries := f.transit.arrivalQueries()
	require.NotEmpty(t, queries)
	assert.Equal(t, transit.ArrivalQuery{StopCode: "54261", ServiceNo: "174"}, queries[0])

	assert.Contains(t, reply.Text, "Ang Mo Kio Hub")
	assert.Contains(t, reply.Text, "Service 174")
	assert.Contains(t, reply.Text, "Next: **1 minute**")
	assert.Contains(t, reply.Text, "2nd: **8 minutes**")
	assert.Contains(t, reply.Text, "3rd: **unknown**")
}

func TestHandle_UnknownPlaceSkipsGateway(t *testing.T) {
	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){
		callTools(llm.ToolCall{
			ID:        "call_1",
			Name:      tools.ToolGetBusArrivalsByLocation,
			Arguments: `{"location_query":"Xyzzyqq"}`,
		}),
		echoToolResults,
	})

	reply := f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: "bus at Xyzzyqq"})
	require.False(t, reply.Failed)

	assert.Contains(t, reply.Text, "No bus stops found")
	assert.Empty(t, f.transit.arrivalQueries())
}

func TestHandle_AssetPassThrough(t *testing.T) {
	withImage := func(_ *assistant.Config, r *tools.Registry) {
		tools.Register(r, "draw", "draws", json.RawMessage(`{"type":"object"}`),
			func(context.Context, struct{}) (tools.Result, error) {
				return tools.Result{
					Text:  "Image generated",
					Asset: &tools.Asset{Path: "/tmp/bus.png", Caption: "Your bus"},
				}, nil
			})
	}

	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){
		callTools(llm.ToolCall{ID: "c1", Name: "draw", Arguments: ``}),
		say("Here is your picture"),
	}, withImage)

	reply := f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: "draw a bus"})
	require.NotNil(t, reply.Asset)
	assert.Equal(t, "/tmp/bus.png", reply.Asset.Path)
	assert.Equal(t, "Your bus", reply.Asset.Caption)
}

func TestHandle_HTMLMarkup(t *testing.T) {
	html := func(cfg *assistant.Config, _ *tools.Registry) { cfg.Markup = assistant.MarkupHTML }

	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){
		say("**Bus 174** in *1 minute* <soon>"),
	}, html)

	reply := f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: "hi"})
	assert.Equal(t, "<b>Bus 174</b> in <i>1 minute</i> &lt;soon&gt;", reply.Text)

	history := f.history(t, "42")
	require.Len(t, history, 1)
	assert.Equal(t, "**Bus 174** in *1 minute* <soon>", history[0].Assistant, "history keeps raw text")
}

func TestHandle_PublishesTurnEvent(t *testing.T) {
	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){
		callTools(llm.ToolCall{ID: "c1", Name: tools.ToolGetBusArrival, Arguments: `{}`}),
		say("Which stop ah?"),
	})

	f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: "bus?"})

	require.Len(t, f.events.events, 1)
	e := f.events.events[0]
	assert.Equal(t, "42", e.UserID)
	assert.Equal(t, f.convs.Today("42").Date, e.Date)
	assert.Equal(t, []string{tools.ToolGetBusArrival}, e.Tools)
	assert.Equal(t, 1, e.ToolErrors, "missing bus_stop_code fails validation")
	assert.Equal(t, 2, e.ModelCalls)
}

func TestHandle_SerializesSameUser(t *testing.T) {
	var inFlight, maxInFlight int32
	slow := func(llm.Request) (*llm.Completion, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &llm.Completion{Content: "ok"}, nil
	}

	const n = 5
	script := make([]func(llm.Request) (*llm.Completion, error), n)
	for i := range script {
		script[i] = slow
	}
	f := newFixture(t, script)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.asst.Handle(context.Background(), assistant.Message{UserID: "42", Text: fmt.Sprintf("msg %d", i)})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Len(t, f.history(t, "42"), n, "no lost updates")
}

func TestClearHistory(t *testing.T) {
	f := newFixture(t, []func(llm.Request) (*llm.Completion, error){say("hi")})
	ctx := context.Background()

	existed, err := f.asst.ClearHistory(ctx, "42")
	require.NoError(t, err)
	assert.False(t, existed)

	f.asst.Handle(ctx, assistant.Message{UserID: "42", Text: "hello"})

	existed, err = f.asst.ClearHistory(ctx, "42")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Empty(t, f.history(t, "42"))
}
