// Package queue publishes tile events to SQS for downstream consumers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"tileseam/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventTileSmoothed is the event attribute of SmoothedMessage.
const EventTileSmoothed = "tile_smoothed"

// SmoothedMessage announces a newly written smoothed raster.
type SmoothedMessage struct {
	MessageID string    `json:"message_id"`
	RunID     string    `json:"run_id,omitempty"`
	TileX     int       `json:"tile_x"`
	TileY     int       `json:"tile_y"`
	Year      int       `json:"year"`
	Key       string    `json:"key"`
	Patches   int       `json:"patches"`
	Rejected  int       `json:"rejected"`
	FusedAt   time.Time `json:"fused_at"`
}

// SmoothedNotifier sends a SmoothedMessage per fused tile.
type SmoothedNotifier struct {
	client   SQSSender
	queueURL string
	year     int
	logger   *slog.Logger
}

func NewSmoothedNotifier(client SQSSender, queueURL string, year int, logger *slog.Logger) *SmoothedNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SmoothedNotifier{client: client, queueURL: queueURL, year: year, logger: logger}
}

// NotifySmoothed enqueues the event. The run ID is taken from ctx.
func (n *SmoothedNotifier) NotifySmoothed(ctx context.Context, tile types.TileID, key string, patches, rejected int) error {
	msg := SmoothedMessage{
		MessageID: uuid.New().String(),
		RunID:     types.GetRunID(ctx),
		TileX:     tile.X,
		TileY:     tile.Y,
		Year:      n.year,
		Key:       key,
		Patches:   patches,
		Rejected:  rejected,
		FusedAt:   time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal SmoothedMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventTileSmoothed),
			},
			"tile": {
				DataType:    aws.String("String"),
				StringValue: aws.String(tile.String()),
			},
		},
	}

	if _, err := n.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send SmoothedMessage to %s: %w", n.queueURL, err)
	}

	n.logger.InfoContext(ctx, "smoothed tile announced",
		"queue_url", n.queueURL,
		"message_id", msg.MessageID,
		"run_id", msg.RunID,
		"tile", tile.String(),
		"key", key,
	)
	return nil
}
