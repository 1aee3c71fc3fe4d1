package redis

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"

	"patternboard/internal/model"
)

func TestChannelNames(t *testing.T) {
	s := NewWithClient(nil, Config{Symbol: "BTCUSDT"})
	want := []string{"pub:seed:BTCUSDT", "pub:candle:BTCUSDT", "pub:signal:BTCUSDT"}
	if diff := cmp.Diff(want, s.Channels()); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
	if got := StreamName("BTCUSDT"); got != "candle:BTCUSDT" {
		t.Errorf("StreamName = %q", got)
	}
}

func TestEventFromChannel(t *testing.T) {
	cases := map[string]string{
		"pub:candle:BTCUSDT":  "candle",
		"pub:signal:ETH:PERP": "signal",
		"candle:BTCUSDT":      "",
		"pub:seed":            "",
	}
	for in, want := range cases {
		if got := eventFromChannel(in); got != want {
			t.Errorf("eventFromChannel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCandlesFromMessages_RestoresAscendingOrder(t *testing.T) {
	msgs := []goredis.XMessage{
		{ID: "3-0", Values: map[string]interface{}{"data": `{"time":3000,"open":3,"high":3,"low":3,"close":3}`}},
		{ID: "2-0", Values: map[string]interface{}{"data": `garbage`}},
		{ID: "1-5", Values: map[string]interface{}{"other": "x"}},
		{ID: "1-0", Values: map[string]interface{}{"data": `{"time":1000,"open":1,"high":1,"low":1,"close":1}`}},
	}
	got := candlesFromMessages(msgs, slog.Default())
	want := []model.Candle{
		{Time: 1000, Open: 1, High: 1, Low: 1, Close: 1},
		{Time: 3000, Open: 3, High: 3, Low: 3, Close: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candles mismatch (-want +got):\n%s", diff)
	}
}

// liveClient returns a client for REDIS_TEST_ADDR or skips the test.
func liveClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSource_RoundTrip(t *testing.T) {
	client := liveClient(t)
	symbol := "TEST" + time.Now().Format("150405.000000")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer client.Del(context.Background(), StreamName(symbol))

	src := NewWithClient(client, Config{Symbol: symbol, SeedLimit: 10})
	pub := NewPublisher(client, symbol)

	out := make(chan model.Event, 16)
	go src.Start(ctx, out)

	select {
	case ev := <-out:
		if ev.Type != model.EventConnection || !ev.Connected {
			t.Fatalf("expected connected, got %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for subscription")
	}

	if err := pub.PublishCandle(ctx, model.Candle{Time: 1000, Close: 1}, true); err != nil {
		t.Fatal(err)
	}
	if err := pub.PublishCandle(ctx, model.Candle{Time: 2000, Close: 2}, false); err != nil {
		t.Fatal(err)
	}
	if err := pub.PublishSignal(ctx, &model.Signal{Time: 1000, Kind: "doji"}); err != nil {
		t.Fatal(err)
	}

	var got []model.EventType
	for len(got) < 3 {
		select {
		case ev := <-out:
			got = append(got, ev.Type)
		case <-ctx.Done():
			t.Fatalf("timed out, got %v", got)
		}
	}
	want := []model.EventType{model.EventCandle, model.EventCandle, model.EventSignal}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	seed, err := src.FetchSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Only the closed candle reaches the stream.
	if len(seed) != 1 || seed[0].Time != 1000 {
		t.Errorf("seed = %+v, want the closed candle only", seed)
	}
}

func TestPublisher_BackfillReplacesStream(t *testing.T) {
	client := liveClient(t)
	symbol := "TESTBF" + time.Now().Format("150405.000000")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer client.Del(context.Background(), StreamName(symbol))

	pub := NewPublisher(client, symbol)
	if err := pub.BackfillStream(ctx, []model.Candle{{Time: 9000, Close: 9}}); err != nil {
		t.Fatal(err)
	}
	history := []model.Candle{{Time: 1000, Close: 1}, {Time: 2000, Close: 2}}
	if err := pub.BackfillStream(ctx, history); err != nil {
		t.Fatal(err)
	}

	got, err := NewWithClient(client, Config{Symbol: symbol}).FetchSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(history, got); diff != "" {
		t.Errorf("seed mismatch (-want +got):\n%s", diff)
	}
}
