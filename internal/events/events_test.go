package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/model"
)

type failingSink struct{}

func (failingSink) Publish(context.Context, model.TradeEvent) error { return errors.New("sink down") }

func TestMultiDeliversToEverySink(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	err := Multi{a, failingSink{}, nil, b}.Publish(context.Background(), model.TradeEvent{Stage: "quoting"})
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatal("expected both recorders to receive the event")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByUser(t *testing.T) {
	w := &fakeWriter{}
	pub := &KafkaPublisher{writer: w, logger: zap.NewNop()}
	if err := pub.Publish(context.Background(), model.TradeEvent{UserID: "42", Stage: "sending"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "42" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var ev model.TradeEvent
	if err := json.Unmarshal(w.msgs[0].Value, &ev); err != nil || ev.Stage != "sending" {
		t.Fatalf("unexpected payload %s", w.msgs[0].Value)
	}

	w.err = errors.New("broker unreachable")
	if err := pub.Publish(context.Background(), model.TradeEvent{UserID: "42"}); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "topic", nil); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, "", nil); err == nil {
		t.Fatal("expected error without topic")
	}
}

func TestHubDeliversToUserAndReadsFrames(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	received := make(chan Frame, 1)
	hub.SetHandler(func(_ context.Context, userID string, frame Frame) {
		if userID == "7" {
			received <- frame
		}
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("user"))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=7"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections("7") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := hub.Publish(context.Background(), model.TradeEvent{UserID: "7", Stage: "confirmed"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var ev model.TradeEvent
	if frame.Type != "trade_event" || json.Unmarshal(frame.Data, &ev) != nil || ev.Stage != "confirmed" {
		t.Fatalf("unexpected frame %+v", frame)
	}

	if err := conn.WriteJSON(Frame{Type: "text", Data: json.RawMessage(`"hello"`)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	select {
	case got := <-received:
		if got.Type != "text" {
			t.Fatalf("unexpected inbound frame %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never saw inbound frame")
	}

	if err := hub.Send("someone-else", "prompt", "ignored"); err != nil {
		t.Fatalf("Send to unknown user failed: %v", err)
	}
}
