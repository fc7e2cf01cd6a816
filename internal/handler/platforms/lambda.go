package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/handler"
)

// errRedeliver marks an SQS message whose job failed with a retryable error.
var errRedeliver = errors.New("job failed with a retryable error")

// LambdaAdapter runs download jobs on AWS Lambda, either from an SQS batch
// (one job per message) or from a direct invocation whose event is the job
// payload.
type LambdaAdapter struct {
	handler *handler.Handler
	config  config.LambdaConfig
}

func NewLambdaAdapter(h *handler.Handler, cfg config.LambdaConfig) *LambdaAdapter {
	return &LambdaAdapter{
		handler: h,
		config:  cfg,
	}
}

// Start hands control to the Lambda runtime. It does not return.
func (a *LambdaAdapter) Start() {
	lambda.Start(a.HandleEvent)
}

// HandleEvent returns an events.SQSEventResponse for SQS batches and a
// handler.Response for direct invocations.
func (a *LambdaAdapter) HandleEvent(ctx context.Context, event json.RawMessage) (interface{}, error) {
	if !json.Valid(event) {
		return nil, fmt.Errorf("lambda event is not valid JSON")
	}

	var batch events.SQSEvent
	if err := json.Unmarshal(event, &batch); err == nil && len(batch.Records) > 0 {
		return a.handleBatch(ctx, batch)
	}

	req := handler.Request{
		Source:    "lambda",
		Type:      "download",
		Payload:   event,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UTC(),
	}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		req.ID = lc.AwsRequestID
		req.Metadata["function_arn"] = lc.InvokedFunctionArn
	}
	return a.handler.Handle(ctx, req)
}

// handleBatch runs every message in order. With partial batch failures
// enabled, only messages worth redelivering are reported; otherwise the
// first such message fails the whole batch.
func (a *LambdaAdapter) handleBatch(ctx context.Context, batch events.SQSEvent) (events.SQSEventResponse, error) {
	out := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}

	for _, record := range batch.Records {
		err := a.runMessage(ctx, record)
		if err == nil {
			continue
		}
		if !a.config.EnablePartialBatchFailure {
			return out, fmt.Errorf("message %s: %w", record.MessageId, err)
		}
		out.BatchItemFailures = append(out.BatchItemFailures, events.SQSBatchItemFailure{
			ItemIdentifier: record.MessageId,
		})
	}

	return out, nil
}

func (a *LambdaAdapter) runMessage(ctx context.Context, record events.SQSMessage) error {
	if a.config.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.ProcessingTimeout)
		defer cancel()
	}

	resp, err := a.handler.Handle(ctx, requestFromSQS(record))
	switch {
	case err != nil:
		return err
	case !resp.Success && resp.Error != nil && resp.Error.Retryable:
		return fmt.Errorf("%w: %s", errRedeliver, resp.Error.Code)
	}
	return nil
}

// requestFromSQS turns a message into a request. String attributes become
// metadata; "type" and "request_id" attributes override the defaults. A body
// that is not JSON is taken as an asset id or page URL.
func requestFromSQS(record events.SQSMessage) handler.Request {
	req := handler.Request{
		ID:        record.MessageId,
		Source:    "sqs",
		Type:      "download",
		Payload:   json.RawMessage(record.Body),
		Metadata:  make(map[string]string, len(record.MessageAttributes)+2),
		Timestamp: time.Now().UTC(),
	}

	for key, attr := range record.MessageAttributes {
		if attr.StringValue != nil {
			req.Metadata[key] = *attr.StringValue
		}
	}
	req.Metadata["sqs_message_id"] = record.MessageId
	req.Metadata["sqs_event_source"] = record.EventSource

	if v := req.Metadata["type"]; v != "" {
		req.Type = v
	}
	if v := req.Metadata["request_id"]; v != "" {
		req.ID = v
	}

	if !json.Valid(req.Payload) {
		req.Payload, _ = json.Marshal(map[string]string{"asset_id": record.Body})
	}

	return req
}
