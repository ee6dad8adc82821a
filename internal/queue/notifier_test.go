package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"tileseam/internal/types"
)

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/tile-smoothed"

func TestNotifySmoothed_SendsMessage(t *testing.T) {
	mock := &mockSQSSender{}
	n := NewSmoothedNotifier(mock, testQueueURL, 2020, slog.Default())

	ctx := types.WithRunID(context.Background(), "run_abc")
	err := n.NotifySmoothed(ctx, types.TileID{X: 1670, Y: 1096}, "2020/tiles/1670/1096/1670X1096Y_SMOOTH.tif", 42, 1)
	if err != nil {
		t.Fatalf("NotifySmoothed returned unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SendMessage call, got %d", len(mock.calls))
	}
	call := mock.calls[0]
	if *call.QueueUrl != testQueueURL {
		t.Errorf("queue URL = %q, want %q", *call.QueueUrl, testQueueURL)
	}
	if got := *call.MessageAttributes["event"].StringValue; got != EventTileSmoothed {
		t.Errorf("event attribute = %q, want %q", got, EventTileSmoothed)
	}
	if got := *call.MessageAttributes["tile"].StringValue; got != "1670X1096Y" {
		t.Errorf("tile attribute = %q, want 1670X1096Y", got)
	}

	var msg SmoothedMessage
	if err := json.Unmarshal([]byte(*call.MessageBody), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}
	if msg.RunID != "run_abc" {
		t.Errorf("RunID = %q, want run_abc", msg.RunID)
	}
	if msg.TileX != 1670 || msg.TileY != 1096 || msg.Year != 2020 {
		t.Errorf("unexpected tile/year in message: %+v", msg)
	}
	if msg.Patches != 42 || msg.Rejected != 1 {
		t.Errorf("unexpected counts in message: %+v", msg)
	}
	if msg.MessageID == "" {
		t.Error("MessageID should be set")
	}
	if msg.FusedAt.IsZero() {
		t.Error("FusedAt should be set")
	}
}

func TestNotifySmoothed_UniqueMessageIDs(t *testing.T) {
	mock := &mockSQSSender{}
	n := NewSmoothedNotifier(mock, testQueueURL, 2020, nil)

	for i := 0; i < 2; i++ {
		if err := n.NotifySmoothed(context.Background(), types.TileID{X: i, Y: 0}, "k", 1, 0); err != nil {
			t.Fatalf("NotifySmoothed: %v", err)
		}
	}

	var a, b SmoothedMessage
	_ = json.Unmarshal([]byte(*mock.calls[0].MessageBody), &a)
	_ = json.Unmarshal([]byte(*mock.calls[1].MessageBody), &b)
	if a.MessageID == b.MessageID {
		t.Errorf("message IDs should differ, both %q", a.MessageID)
	}
	if a.RunID != "" {
		t.Errorf("RunID = %q, want empty without a run in context", a.RunID)
	}
}

func TestNotifySmoothed_SQSError(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("access denied")}
	n := NewSmoothedNotifier(mock, testQueueURL, 2020, slog.Default())

	err := n.NotifySmoothed(context.Background(), types.TileID{X: 1, Y: 2}, "k", 1, 0)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "access denied") {
		t.Errorf("error should wrap the SQS failure, got: %v", err)
	}
	if !strings.Contains(err.Error(), testQueueURL) {
		t.Errorf("error should name the queue, got: %v", err)
	}
}
