// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package collector

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/fleetwatch/agent/internal/event"
	"github.com/fleetwatch/agent/internal/policy"
)

const (
	defaultSnapshotLimit = 50
	processRiskHigh      = 90.0
	processRiskBase      = 5.0
)

// suspiciousProcessTokens flags tooling that warrants an immediate high
// risk score when it shows up in a process name.
var suspiciousProcessTokens = []string{"mimikatz", "keylogger", "miner", "torrent"}

// ProcessSnapshot emits one event per running process, capped to the
// policy's snapshot limit and ordered by CPU share so the busiest processes
// survive the cap.
type ProcessSnapshot struct {
	computerID int64
	userID     *int64
}

func NewProcessSnapshot(computerID int64, userID *int64) *ProcessSnapshot {
	return &ProcessSnapshot{computerID: computerID, userID: userID}
}

func (c *ProcessSnapshot) Name() string { return "process_snapshot" }

type processInfo struct {
	pid       int32
	name      string
	user      string
	cpu       float64
	rss       any
	cmdline   []string
	startedAt any
}

func (c *ProcessSnapshot) Collect(ctx context.Context, pol policy.Policy) ([]event.ActivityEvent, error) {
	if !pol.Bool(policy.KeyEnableProcesses, true) {
		return nil, nil
	}

	limit := pol.Int(policy.KeySnapshotLimit, defaultSnapshotLimit)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]processInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Process exited between listing and inspection.
			continue
		}
		info := processInfo{pid: p.Pid, name: name, cmdline: []string{}}
		if user, err := p.UsernameWithContext(ctx); err == nil {
			info.user = user
		}
		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			info.cpu = cpu
		}
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			info.rss = mem.RSS
		}
		if cmdline, err := p.CmdlineSliceWithContext(ctx); err == nil && cmdline != nil {
			info.cmdline = cmdline
		}
		if created, err := p.CreateTimeWithContext(ctx); err == nil && created > 0 {
			info.startedAt = event.Timestamp(time.UnixMilli(created))
		}
		infos = append(infos, info)
	}

	sort.SliceStable(infos, func(i, j int) bool { return infos[i].cpu > infos[j].cpu })
	if len(infos) > limit {
		infos = infos[:limit]
	}

	now := event.Timestamp(time.Now())
	events := make([]event.ActivityEvent, 0, len(infos))
	for _, info := range infos {
		suspicious := suspiciousProcessName(info.name)
		riskScore := processRiskBase
		if suspicious {
			riskScore = processRiskHigh
		}
		e := event.New(c.computerID, event.TypeProcessSnapshot)
		e.Timestamp = now
		e.ProcessName = info.name
		e.RiskScore = riskScore
		e.IsBlocked = suspicious
		e.Details = map[string]any{
			"pid":           info.pid,
			"user":          info.user,
			"cpu_percent":   info.cpu,
			"rss":           info.rss,
			"cmdline":       info.cmdline,
			"started_at":    info.startedAt,
			"agent_user_id": userIDValue(c.userID),
		}
		events = append(events, e)
	}
	return events, nil
}

func suspiciousProcessName(name string) bool {
	lower := strings.ToLower(name)
	for _, token := range suspiciousProcessTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
