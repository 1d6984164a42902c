// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package rpc carries the hand-written wire types and thin gRPC bindings for
// the two backplane services the agent consumes: ActivityGrpcService and
// AgentManagementService. The message structs mirror the backplane contract
// field for field; transport framing uses the registered JSON codec.
package rpc

import (
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Target normalizes a configured service URL into a gRPC dial target.
// Deployments habitually configure "http://host:port"; gRPC wants "host:port".
func Target(url string) string {
	t := strings.TrimSpace(url)
	t = strings.TrimPrefix(t, "http://")
	t = strings.TrimPrefix(t, "https://")
	return strings.TrimSuffix(t, "/")
}

// Dial opens a client connection to a backplane service. Connections are
// lazy: gRPC establishes transport on first use, so Dial succeeds even while
// the service is down and the agent is queueing offline.
func Dial(url string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(Target(url),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", url, err)
	}
	return conn, nil
}

// callOptions are prepended to every client invocation so both services are
// spoken to with the JSON codec regardless of how the connection was opened.
func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func errUnimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}
