// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package controlplane

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fleetwatch/agent/internal/log"
	"github.com/fleetwatch/agent/internal/metrics"
	"github.com/fleetwatch/agent/internal/rpc"
)

// SigningAlg is the only signature algorithm the agent accepts.
const SigningAlg = "hmac-sha256-v1"

// Verifier checks the HMAC envelope on control-plane payloads. A
// deployment without a shared secret runs unsigned; once a secret is
// configured, allowUnsigned decides whether legacy unsigned payloads
// still pass.
type Verifier struct {
	secret        string
	keyID         string
	allowUnsigned bool
	logger        zerolog.Logger
}

func NewVerifier(secret, keyID string, allowUnsigned bool) *Verifier {
	return &Verifier{
		secret:        strings.TrimSpace(secret),
		keyID:         strings.TrimSpace(keyID),
		allowUnsigned: allowUnsigned,
		logger:        log.WithComponent("controlplane"),
	}
}

// VerifyPolicy reports whether the policy's signature envelope is valid.
func (v *Verifier) VerifyPolicy(p *rpc.AgentPolicy) bool {
	entity := p.ID
	if entity == 0 {
		entity = p.AgentID
	}
	ok := v.verify("policy", entity, canonicalPolicyPayload(p), p.Signature, p.SignatureKeyID, p.SignatureAlg)
	if !ok {
		metrics.RecordSignatureRejection("policy")
	}
	return ok
}

// VerifyCommand reports whether the command's signature envelope is valid.
func (v *Verifier) VerifyCommand(cmd *rpc.AgentCommand) bool {
	ok := v.verify("command", cmd.ID, canonicalCommandPayload(cmd), cmd.Signature, cmd.SignatureKeyID, cmd.SignatureAlg)
	if !ok {
		metrics.RecordSignatureRejection("command")
	}
	return ok
}

// verify applies the normative checks in order. The order matters: an
// unsigned payload is judged on allowUnsigned alone, before any
// algorithm or key id screening.
func (v *Verifier) verify(kind string, entityID int64, payload []byte, signature, keyID, alg string) bool {
	sig := strings.ToLower(strings.TrimSpace(signature))
	key := strings.TrimSpace(keyID)
	algNorm := strings.ToLower(strings.TrimSpace(alg))

	reject := func(reason string) bool {
		v.logger.Error().
			Str(log.FieldEvent, "controlplane.signature_rejected").
			Str("kind", kind).
			Str("entity_id", strconv.FormatInt(entityID, 10)).
			Str(log.FieldReason, reason).
			Msg("rejected control-plane payload")
		return false
	}

	if sig == "" {
		if v.allowUnsigned || v.secret == "" {
			return true
		}
		return reject("unsigned payload not allowed")
	}
	if v.secret == "" {
		return reject("signed payload but no local signing secret configured")
	}
	if algNorm != "" && algNorm != SigningAlg {
		return reject("unsupported signature algorithm: " + algNorm)
	}
	if v.keyID != "" && key != "" && key != v.keyID {
		return reject("key id mismatch: expected " + v.keyID + ", got " + key)
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return reject("digest mismatch")
	}
	return true
}
