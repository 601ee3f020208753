package safi

// Public aliases for the canonical domain types and the capability
// interfaces callers implement or inject. Keeping them here gives the SDK
// a single import for consumers while the machinery stays internal.

import (
	"github.com/jnamaya/SAFi-sub001/internal/kv"
	"github.com/jnamaya/SAFi-sub001/internal/netmon"
	"github.com/jnamaya/SAFi-sub001/internal/queue"
	"github.com/jnamaya/SAFi-sub001/internal/types"
)

// Domain types.
type (
	ConversationSummary = types.ConversationSummary
	Message             = types.Message
	LedgerEntry         = types.LedgerEntry
	AuditStatus         = types.AuditStatus
)

// Message roles.
const (
	RoleUser = types.RoleUser
	RoleAI   = types.RoleAI
)

// Audit statuses.
const (
	AuditPending       = types.AuditPending
	AuditComplete      = types.AuditComplete
	AuditNotApplicable = types.AuditNotApplicable
)

// StatusQueued is the literal sentinel a write flow reports when a change
// was accepted locally but not yet confirmed by the server. It is a valid
// non-error outcome, not a failure.
const StatusQueued = queue.StatusQueued

// Store is the durable key-value contract for WithStore.
type Store = kv.Store

// Probe is the platform connectivity capability for WithProbe.
type Probe = netmon.Probe

// ManualProbe is a Probe driven by explicit Set calls, for tests and
// hosts whose connectivity is only known at startup.
type ManualProbe = netmon.ManualProbe

// NewManualProbe constructs a ManualProbe with the given initial state.
func NewManualProbe(online bool) *ManualProbe { return netmon.NewManualProbe(online) }
