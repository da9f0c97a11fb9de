package processbuffer

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/message"
	"github.com/c360/logstreams/natsclient"
	"github.com/c360/logstreams/pkg/retry"
)

// Output receives drained batches
type Output interface {
	Deliver(ctx context.Context, batch []*message.Message) error
}

// NATSOutput publishes every message as JSON on one subject
type NATSOutput struct {
	client  *natsclient.Client
	subject string
	retry   retry.Config
}

var _ Output = (*NATSOutput)(nil)

// NewNATSOutput creates an output publishing to subject
func NewNATSOutput(client *natsclient.Client, subject string) *NATSOutput {
	return &NATSOutput{client: client, subject: subject, retry: retry.DefaultConfig()}
}

// Deliver publishes each message with retry. Failures do not stop the rest
// of the batch; all of them are returned together.
func (o *NATSOutput) Deliver(ctx context.Context, batch []*message.Message) error {
	var err error
	for _, msg := range batch {
		data, merr := json.Marshal(msg)
		if merr != nil {
			err = multierr.Append(err, errors.WrapInvalid(merr, "NATSOutput", "Deliver", "encode message"))
			continue
		}
		perr := retry.Do(ctx, o.retry, func() error {
			return o.client.Publish(ctx, o.subject, data)
		})
		if perr != nil {
			err = multierr.Append(err, errors.Wrap(perr, "NATSOutput", "Deliver", "publish "+msg.ID.String()))
		}
	}
	return err
}

// LogOutput writes a debug line per message. Used when no NATS server is
// configured.
type LogOutput struct {
	logger *slog.Logger
}

var _ Output = (*LogOutput)(nil)

// NewLogOutput creates a logging output
func NewLogOutput(logger *slog.Logger) *LogOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogOutput{logger: logger.With("component", "log-output")}
}

// Deliver logs the batch
func (o *LogOutput) Deliver(ctx context.Context, batch []*message.Message) error {
	for _, msg := range batch {
		o.logger.DebugContext(ctx, "message",
			"id", msg.ID.String(),
			"input", msg.Input,
			"source", msg.Source,
			"hostname", msg.Hostname,
			"size", msg.Size)
	}
	return nil
}
