package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"klinecore/internal/chart"
	"klinecore/internal/model"
)

const minute = int64(60_000)

const t0 = int64(1_699_999_200_000)

type testEngine struct {
	loop  *chart.Loop
	store *chart.Store
}

func (e *testEngine) Post(fn func())                          { e.loop.Post(fn) }
func (e *testEngine) Do(ctx context.Context, fn func()) error { return e.loop.Do(ctx, fn) }
func (e *testEngine) Store() *chart.Store                     { return e.store }

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// newEngine returns an 800px wide chart holding n one-minute bars.
func newEngine(t *testing.T, n int) *testEngine {
	t.Helper()
	loop := chart.NewLoop()
	store := chart.NewStore(quietLog(), chart.DefaultConfig(), loop.Post, nil)
	store.SetTotalBarSpace(800)
	bars := make([]model.Bar, n)
	for i := range bars {
		p := 100 + float64(i%20)
		bars[i] = model.Bar{Timestamp: t0 + int64(i)*minute, Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 10}
	}
	store.AddData(bars, model.LoadInit, false)
	loop.Drain()
	return &testEngine{loop: loop, store: store}
}

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
}

func decodeEnvelope(t *testing.T, raw []byte) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("invalid envelope %q: %v", raw, err)
	}
	return env
}

// fakeClient registers a client without a connection.
func fakeClient(h *Hub, buf int) *Client {
	c := &Client{hub: h, send: make(chan []byte, buf)}
	h.add(c)
	return c
}

// drainSend returns every envelope queued on c.
func drainSend(t *testing.T, c *Client) []envelope {
	t.Helper()
	var out []envelope
	for {
		select {
		case msg := <-c.send:
			out = append(out, decodeEnvelope(t, msg))
		default:
			return out
		}
	}
}
