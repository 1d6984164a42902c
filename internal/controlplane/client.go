// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"

	"github.com/fleetwatch/agent/internal/log"
	"github.com/fleetwatch/agent/internal/metrics"
	"github.com/fleetwatch/agent/internal/policy"
	"github.com/fleetwatch/agent/internal/rpc"
)

const (
	rpcTimeout           = 5 * time.Second
	commandPageSize      = 20
	defaultConfigVersion = "1"
)

// Command is a verified, decoded control-plane instruction.
type Command struct {
	ID          int64
	AgentID     int64
	Type        string
	Payload     map[string]any
	PayloadJSON string
	Status      string
	RequestedBy string
	CreatedAt   string
}

// Options configures a Client.
type Options struct {
	URL           string
	ComputerID    int64
	Version       string
	ConfigVersion string

	SigningSecret string
	SigningKeyID  string
	AllowUnsigned bool

	// StateDir, when set, persists the registered agent id across
	// restarts.
	StateDir string
}

// Client talks to the agent management service. The underlying channel is
// long-lived and connects lazily; every RPC carries a deadline, so a dead
// control plane costs at most rpcTimeout per call.
type Client struct {
	computerID    int64
	version       string
	configVersion string

	mgmt     rpc.AgentManagementServiceClient
	verifier *Verifier
	state    *StateStore
	closer   io.Closer
	logger   zerolog.Logger

	regGroup singleflight.Group

	mu      sync.Mutex
	agentID int64
}

// NewClient dials the management service and owns the connection.
func NewClient(opts Options) (*Client, error) {
	conn, err := rpc.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial agent management service: %w", err)
	}
	c := newClient(conn, opts)
	c.closer = conn
	return c, nil
}

// NewClientWithConn wraps an existing connection; the caller keeps
// ownership of its lifecycle.
func NewClientWithConn(conn grpc.ClientConnInterface, opts Options) *Client {
	return newClient(conn, opts)
}

func newClient(conn grpc.ClientConnInterface, opts Options) *Client {
	configVersion := opts.ConfigVersion
	if configVersion == "" {
		configVersion = defaultConfigVersion
	}
	c := &Client{
		computerID:    opts.ComputerID,
		version:       opts.Version,
		configVersion: configVersion,
		mgmt:          rpc.NewAgentManagementServiceClient(conn),
		verifier:      NewVerifier(opts.SigningSecret, opts.SigningKeyID, opts.AllowUnsigned),
		logger:        log.WithComponent("controlplane"),
	}
	if opts.StateDir != "" {
		c.state = NewStateStore(opts.StateDir)
		if id := c.state.Load(opts.ComputerID); id > 0 {
			c.agentID = id
			c.logger.Info().
				Str(log.FieldEvent, "controlplane.state_restored").
				Int64(log.FieldAgentID, id).
				Msg("restored registration from state file")
		}
	}

	keyLabel := c.verifier.keyID
	if keyLabel == "" {
		keyLabel = "(any)"
	}
	c.logger.Info().
		Str(log.FieldEvent, "controlplane.verifier_configured").
		Bool("secret_configured", c.verifier.secret != "").
		Str(log.FieldKeyID, keyLabel).
		Bool("allow_unsigned", c.verifier.allowUnsigned).
		Msg("control-plane signature verification configured")
	return c
}

// Close releases the connection when the client owns one.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// AgentID returns the cached agent id, zero while unregistered.
func (c *Client) AgentID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

// EnsureRegistered returns the registered agent id, registering on first
// use. Concurrent callers share one in-flight registration.
func (c *Client) EnsureRegistered(ctx context.Context) (int64, error) {
	if id := c.AgentID(); id != 0 {
		return id, nil
	}
	v, err, _ := c.regGroup.Do("register", func() (any, error) {
		return c.register(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (c *Client) register(ctx context.Context) (int64, error) {
	if id := c.AgentID(); id != 0 {
		return id, nil
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	resp, err := c.mgmt.RegisterAgent(ctx, &rpc.RegisterAgentRequest{
		ComputerID:    c.computerID,
		Version:       c.version,
		ConfigVersion: c.configVersion,
	})
	if err != nil {
		metrics.RecordRPCFailure("RegisterAgent")
		return 0, fmt.Errorf("register agent: %w", err)
	}
	if resp.Success && resp.Agent != nil && resp.Agent.ID > 0 {
		return c.adopt(resp.Agent.ID, "registered"), nil
	}

	// Most commonly "already registered": the control plane keeps one
	// agent row per computer, so adopt the existing one.
	lookup, err := c.mgmt.GetAgentsByComputer(ctx, &rpc.GetAgentsByComputerRequest{ComputerID: c.computerID})
	if err != nil {
		metrics.RecordRPCFailure("GetAgentsByComputer")
		return 0, fmt.Errorf("look up agents for computer %d: %w", c.computerID, err)
	}
	if lookup.Success && len(lookup.Agents) > 0 && lookup.Agents[0] != nil && lookup.Agents[0].ID > 0 {
		return c.adopt(lookup.Agents[0].ID, "adopted"), nil
	}
	return 0, fmt.Errorf("no agent id for computer %d (register: %q, lookup: %q)",
		c.computerID, resp.Message, lookup.Message)
}

func (c *Client) adopt(id int64, via string) int64 {
	c.mu.Lock()
	c.agentID = id
	c.mu.Unlock()

	if c.state != nil {
		if err := c.state.Save(id, c.computerID); err != nil {
			c.logger.Warn().Err(err).
				Str(log.FieldEvent, "controlplane.state_save_failed").
				Msg("could not persist registration")
		}
	}
	c.logger.Info().
		Str(log.FieldEvent, "controlplane.registered").
		Int64(log.FieldAgentID, id).
		Int64(log.FieldComputerID, c.computerID).
		Str("via", via).
		Msg("agent registered with control plane")
	return id
}

// Heartbeat reports liveness under the given status. It returns false
// when the agent is unregistered or the update was not accepted.
func (c *Client) Heartbeat(ctx context.Context, status string) bool {
	id, err := c.EnsureRegistered(ctx)
	if err != nil {
		c.logger.Warn().Err(err).
			Str(log.FieldEvent, "controlplane.heartbeat_unregistered").
			Msg("heartbeat requires a registered agent")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	resp, err := c.mgmt.UpdateAgentStatus(ctx, &rpc.UpdateAgentStatusRequest{
		AgentID:       id,
		Status:        status,
		ConfigVersion: c.configVersion,
	})
	if err != nil {
		metrics.RecordRPCFailure("UpdateAgentStatus")
		c.logger.Warn().Err(err).
			Str(log.FieldEvent, "controlplane.heartbeat_failed").
			Str(log.FieldStatus, status).
			Msg("heartbeat failed")
		return false
	}
	if !resp.Success {
		c.logger.Warn().
			Str(log.FieldEvent, "controlplane.heartbeat_rejected").
			Str(log.FieldStatus, status).
			Str("message", resp.Message).
			Msg("heartbeat rejected")
		return false
	}
	metrics.RecordHeartbeat(status)
	return true
}

// FetchPolicy pulls this agent's policy as an overlay for the built-in
// defaults. ok is false when the agent is unregistered, the control plane
// has no policy row yet, or the payload failed signature verification; the
// caller keeps whatever policy it already has.
func (c *Client) FetchPolicy(ctx context.Context) (policy.Policy, bool) {
	id, err := c.EnsureRegistered(ctx)
	if err != nil {
		c.logger.Warn().Err(err).
			Str(log.FieldEvent, "controlplane.policy_unregistered").
			Msg("policy fetch requires a registered agent")
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	resp, err := c.mgmt.GetAgentPolicy(ctx, &rpc.GetAgentPolicyRequest{AgentID: id})
	if err != nil {
		metrics.RecordRPCFailure("GetAgentPolicy")
		c.logger.Warn().Err(err).
			Str(log.FieldEvent, "controlplane.policy_fetch_failed").
			Msg("policy fetch failed")
		return nil, false
	}
	if !resp.Success || resp.Policy == nil || resp.Policy.AgentID <= 0 {
		return nil, false
	}
	if !c.verifier.VerifyPolicy(resp.Policy) {
		c.logger.Error().
			Str(log.FieldEvent, "controlplane.policy_rejected").
			Int64(log.FieldAgentID, id).
			Msg("dropped policy with invalid signature")
		return nil, false
	}
	return policyOverlay(resp.Policy), true
}

// FetchCommands drains up to one page of pending commands. A command
// whose signature fails verification is acked failed immediately, which
// stops the control plane from re-serving it forever.
func (c *Client) FetchCommands(ctx context.Context) []Command {
	id, err := c.EnsureRegistered(ctx)
	if err != nil {
		c.logger.Warn().Err(err).
			Str(log.FieldEvent, "controlplane.commands_unregistered").
			Msg("command fetch requires a registered agent")
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	resp, err := c.mgmt.GetPendingAgentCommands(callCtx, &rpc.GetPendingAgentCommandsRequest{
		AgentID: id,
		Limit:   commandPageSize,
	})
	if err != nil {
		metrics.RecordRPCFailure("GetPendingAgentCommands")
		c.logger.Warn().Err(err).
			Str(log.FieldEvent, "controlplane.command_fetch_failed").
			Msg("command fetch failed")
		return nil
	}
	if !resp.Success {
		return nil
	}

	commands := make([]Command, 0, len(resp.Commands))
	for _, cmd := range resp.Commands {
		if cmd == nil {
			continue
		}
		if !c.verifier.VerifyCommand(cmd) {
			c.logger.Error().
				Str(log.FieldEvent, "controlplane.command_rejected").
				Int64(log.FieldCommandID, cmd.ID).
				Msg("rejected command with invalid signature")
			if cmd.ID != 0 {
				c.AckCommand(ctx, cmd.ID, "failed", "Invalid command signature")
			}
			continue
		}
		commands = append(commands, Command{
			ID:          cmd.ID,
			AgentID:     cmd.AgentID,
			Type:        cmd.Type,
			Payload:     decodePayload(cmd.PayloadJSON),
			PayloadJSON: cmd.PayloadJSON,
			Status:      cmd.Status,
			RequestedBy: cmd.RequestedBy,
			CreatedAt:   cmd.CreatedAt,
		})
	}
	return commands
}

// AckCommand reports a command outcome. Failures are logged and
// swallowed; an unacked command simply reappears on the next poll.
func (c *Client) AckCommand(ctx context.Context, commandID int64, status, message string) {
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	_, err := c.mgmt.AckAgentCommand(ctx, &rpc.AckAgentCommandRequest{
		CommandID:     commandID,
		Status:        status,
		ResultMessage: message,
	})
	if err != nil {
		metrics.RecordRPCFailure("AckAgentCommand")
		c.logger.Warn().Err(err).
			Str(log.FieldEvent, "controlplane.ack_failed").
			Int64(log.FieldCommandID, commandID).
			Str(log.FieldStatus, status).
			Msg("command ack failed")
	}
}

// policyOverlay maps a wire policy onto recognized policy keys. Zero
// numerics mean "unset" on the wire and fall back to the documented
// defaults; empty strings become nil.
func policyOverlay(p *rpc.AgentPolicy) policy.Policy {
	var updatedAt any
	if p.UpdatedAt != "" {
		updatedAt = p.UpdatedAt
	}
	var blockedReason any
	if p.BlockedReason != "" {
		blockedReason = p.BlockedReason
	}
	return policy.Policy{
		policy.KeyVersion:               orString(p.PolicyVersion, "1"),
		policy.KeyUpdatedAt:             updatedAt,
		policy.KeyCollectionIntervalSec: orInt(p.CollectionIntervalSec, 5),
		policy.KeyHeartbeatIntervalSec:  orInt(p.HeartbeatIntervalSec, 15),
		policy.KeyFlushIntervalSec:      orInt(p.FlushIntervalSec, 5),
		policy.KeyEnableProcesses:       p.EnableProcessCollection,
		policy.KeyEnableBrowser:         p.EnableBrowserCollection,
		policy.KeyEnableActiveWindow:    p.EnableActiveWindowCollection,
		policy.KeyEnableIdle:            p.EnableIdleCollection,
		policy.KeyIdleThresholdSec:      orInt(p.IdleThresholdSec, 120),
		policy.KeyBrowserPollSec:        orInt(p.BrowserPollIntervalSec, 10),
		policy.KeySnapshotLimit:         orInt(p.ProcessSnapshotLimit, 50),
		policy.KeyHighRiskThreshold:     orFloat(p.HighRiskThreshold, 85.0),
		policy.KeyAutoLockEnabled:       p.AutoLockEnabled,
		policy.KeyAdminBlocked:          p.AdminBlocked,
		policy.KeyBlockedReason:         blockedReason,
		policy.KeyBrowsers:              append([]string(nil), p.Browsers...),
	}
}

// decodePayload turns a command's payload_json into a map without ever
// failing: objects pass through, other JSON values nest under "value",
// and undecodable text survives under "raw".
func decodePayload(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return map[string]any{"raw": raw}
	}
	if obj, ok := parsed.(map[string]any); ok {
		return obj
	}
	return map[string]any{"value": parsed}
}

func orInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func orFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
