// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package activity delivers observation events to the activity sink.
package activity

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/log"
	"github.com/fleetwatch/agent/internal/metrics"
	"github.com/fleetwatch/agent/internal/rpc"
)

const (
	sendTimeout  = 5 * time.Second
	retryBackoff = 50 * time.Millisecond
)

// Client delivers events over the activity gRPC service. The channel is
// long-lived and connects lazily.
type Client struct {
	sink   rpc.ActivityGrpcServiceClient
	closer io.Closer
	logger zerolog.Logger
}

// NewClient dials the activity service and owns the connection.
func NewClient(url string) (*Client, error) {
	conn, err := rpc.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial activity service: %w", err)
	}
	c := NewClientWithConn(conn)
	c.closer = conn
	return c, nil
}

// NewClientWithConn wraps an existing connection; the caller keeps
// ownership of its lifecycle.
func NewClientWithConn(conn grpc.ClientConnInterface) *Client {
	return &Client{
		sink:   rpc.NewActivityGrpcServiceClient(conn),
		logger: log.WithComponent("activity"),
	}
}

// Close releases the connection when the client owns one.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// SendActivity delivers one event and reports acceptance. Failures are
// logged at warn; the caller decides whether the event stays queued.
func (c *Client) SendActivity(ctx context.Context, e event.ActivityEvent) bool {
	details, err := e.DetailsJSON()
	if err != nil {
		c.logger.Warn().Err(err).
			Str(log.FieldActivityType, e.ActivityType.String()).
			Msg("dropping event with unencodable details")
		return false
	}
	var durationMS int64
	if e.DurationMS != nil {
		durationMS = *e.DurationMS
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, err = c.sink.CreateActivity(ctx, &rpc.CreateActivityRequest{Activity: &rpc.ActivityReply{
		ComputerID:   e.ComputerID,
		Timestamp:    e.Timestamp,
		ActivityType: e.ActivityType.String(),
		Details:      details,
		DurationMS:   durationMS,
		URL:          e.URL,
		ProcessName:  e.ProcessName,
		IsBlocked:    e.IsBlocked,
		RiskScore:    e.RiskScore,
		Synced:       true,
	}})
	if err != nil {
		metrics.RecordSendFailure()
		c.logger.Warn().Err(err).
			Str(log.FieldActivityType, e.ActivityType.String()).
			Msg("failed to send activity")
		return false
	}
	metrics.RecordSent(1)
	return true
}

// SendBatch attempts every event in order and splits the batch into
// accepted and rejected events. After each failure it sleeps 50 ms before
// the next attempt.
func (c *Client) SendBatch(ctx context.Context, events []event.ActivityEvent) (sent, failed []event.ActivityEvent) {
	for i, e := range events {
		if c.SendActivity(ctx, e) {
			sent = append(sent, e)
			continue
		}
		failed = append(failed, e)
		select {
		case <-ctx.Done():
			failed = append(failed, events[i+1:]...)
			return sent, failed
		case <-time.After(retryBackoff):
		}
	}
	return sent, failed
}
