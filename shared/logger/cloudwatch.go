package logger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
)

const (
	// maxBatchEvents stays well below the PutLogEvents limit of 10000 events per call
	maxBatchEvents = 1000
	// maxBatchBytes is the PutLogEvents payload limit, counted as message bytes plus eventOverhead each
	maxBatchBytes = 1048576
	eventOverhead = 26
	// maxEventBytes is the largest message a single event may carry
	maxEventBytes = 256*1024 - eventOverhead
	// maxPendingEvents bounds what is kept for retry while CloudWatch is unreachable
	maxPendingEvents = 10000

	truncatedSuffix = "...[truncated]"
)

type cloudWatchLogsAPI interface {
	CreateLogStreamWithContext(ctx aws.Context, input *cloudwatchlogs.CreateLogStreamInput, opts ...request.Option) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEventsWithContext(ctx aws.Context, input *cloudwatchlogs.PutLogEventsInput, opts ...request.Option) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchWriter buffers log lines and ships them to a CloudWatch Logs stream
// every send interval. Each Write is one log event.
type CloudWatchWriter struct {
	client   cloudWatchLogsAPI
	group    string
	stream   string
	interval time.Duration
	errOut   io.Writer
	now      func() time.Time

	mu      sync.Mutex
	pending []*cloudwatchlogs.InputLogEvent

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewCloudWatchWriter creates the log stream if needed and starts the flush loop
func NewCloudWatchWriter(ctx context.Context, client cloudWatchLogsAPI, group, stream string, interval time.Duration) (*CloudWatchWriter, error) {
	if group == "" || stream == "" {
		return nil, fmt.Errorf("cloudwatch log group and stream are required")
	}
	if interval <= 0 {
		interval = time.Second
	}

	_, err := client.CreateLogStreamWithContext(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != cloudwatchlogs.ErrCodeResourceAlreadyExistsException {
			return nil, fmt.Errorf("failed to create log stream: %w", err)
		}
	}

	w := &CloudWatchWriter{
		client:   client,
		group:    group,
		stream:   stream,
		interval: interval,
		errOut:   os.Stderr,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.flushLoop()

	return w, nil
}

// Write queues p as a single log event
func (w *CloudWatchWriter) Write(p []byte) (int, error) {
	msg := string(bytes.TrimRight(p, "\n"))
	if msg == "" {
		return len(p), nil
	}
	if len(msg) > maxEventBytes {
		msg = strings.ToValidUTF8(msg[:maxEventBytes-len(truncatedSuffix)], "") + truncatedSuffix
	}

	w.mu.Lock()
	w.pending = append(w.pending, &cloudwatchlogs.InputLogEvent{
		Message:   aws.String(msg),
		Timestamp: aws.Int64(w.now().UnixMilli()),
	})
	w.mu.Unlock()

	return len(p), nil
}

// Flush sends every queued event. Events from a failed call onwards are kept for
// the next flush, oldest dropped first past maxPendingEvents.
func (w *CloudWatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	events := w.pending
	w.pending = nil
	w.mu.Unlock()

	for len(events) > 0 {
		n := batchSize(events)

		_, err := w.client.PutLogEventsWithContext(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(w.group),
			LogStreamName: aws.String(w.stream),
			LogEvents:     events[:n],
		})
		if err != nil {
			w.requeue(events)
			return fmt.Errorf("failed to put %d log events: %w", n, err)
		}
		events = events[n:]
	}

	return nil
}

// requeue puts unsent events back ahead of anything written since the flush began
func (w *CloudWatchWriter) requeue(events []*cloudwatchlogs.InputLogEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pending := append(append(make([]*cloudwatchlogs.InputLogEvent, 0, len(events)+len(w.pending)), events...), w.pending...)
	if over := len(pending) - maxPendingEvents; over > 0 {
		pending = pending[over:]
	}
	w.pending = pending
}

// batchSize returns how many leading events fit in one PutLogEvents call
func batchSize(events []*cloudwatchlogs.InputLogEvent) int {
	size := 0
	for i, e := range events {
		eventSize := len(aws.StringValue(e.Message)) + eventOverhead
		if i == maxBatchEvents || (i > 0 && size+eventSize > maxBatchBytes) {
			return i
		}
		size += eventSize
	}
	return len(events)
}

// Close stops the flush loop and sends whatever is still queued
func (w *CloudWatchWriter) Close() error {
	w.once.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return w.Flush(ctx)
}

func (w *CloudWatchWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval*5)
			if err := w.Flush(ctx); err != nil {
				fmt.Fprintf(w.errOut, "cloudwatch log flush failed: %v\n", err)
			}
			cancel()
		}
	}
}
