/*
audit.go - Tamper-evident audit chain

PURPOSE:
  Append-only, hash-linked log of entity mutations, one chain per tenant.
  Each entry records the action, the entity touched, PII-masked before/after
  values, a monotonic per-tenant sequence number, the previous entry's hash
  and the digest of the entry content plus that previous hash.

CHAIN INVARIANT:
  For any tenant: entries[i].PrevHash == entries[i-1].Hash and
  entries[i].Hash == digest(entry, PrevHash). VerifyChain walks the stored
  chain and reports the first entry that breaks either link.

SEQUENCING:
  Concurrent appends for one tenant must be serialized. Append locks the
  tenant's head entry (AuditRepo.HeadLocked) before computing the next
  sequence number and hash, so two units of work cannot race to the same
  sequence slot.

BEST EFFORT:
  The audit chain is supplementary, not the system of record. The
  orchestrator logs and swallows append failures instead of failing the
  primary financial/state mutation.

SEE ALSO:
  - workflow.go: Appends one entry per workflow step
*/
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// AUDIT ENTRY
// =============================================================================

type AuditEntry struct {
	ID       string
	TenantID TenantID

	Action     string
	EntityName string
	EntityID   string
	OldValues  map[string]any
	NewValues  map[string]any

	SequenceNumber int64
	PrevHash       string
	Hash           string

	CreatedAt time.Time
}

// piiFields are masked in old/new values before hashing and persistence.
var piiFields = map[string]bool{
	"email":   true,
	"phone":   true,
	"name":    true,
	"address": true,
}

// maskPII returns a copy of values with known PII fields replaced.
func maskPII(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if piiFields[strings.ToLower(k)] {
			out[k] = "***"
		} else {
			out[k] = v
		}
	}
	return out
}

// canonicalJSON renders a map with sorted keys so the digest is stable.
func canonicalJSON(values map[string]any) string {
	if len(values) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(values[k])
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return sb.String()
}

// entryDigest computes the content hash of an entry chained to prevHash.
func entryDigest(e AuditEntry, prevHash string) string {
	payload := fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s",
		e.TenantID, e.SequenceNumber, e.Action, e.EntityName, e.EntityID,
		canonicalJSON(e.OldValues), canonicalJSON(e.NewValues), prevHash)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// AUDIT CHAIN
// =============================================================================

// AuditChain appends and verifies the per-tenant hash chain.
// OnFailure, when set, is invoked each time a best-effort append is dropped.
type AuditChain struct {
	OnFailure func()
}

// AppendInput describes one mutation to record.
type AppendInput struct {
	Action     string
	EntityName string
	EntityID   string
	OldValues  map[string]any
	NewValues  map[string]any
}

// Append records one entry inside the caller's unit of work. It locks the
// tenant's chain head, assigns the next sequence number and links the hashes.
func (ac *AuditChain) Append(ctx context.Context, uow UnitOfWork, tenant TenantID, in AppendInput) error {
	if uow == nil {
		return ErrTransactionRequired
	}

	head, err := uow.Audit().HeadLocked(ctx, tenant)
	if err != nil {
		return err
	}

	entry := AuditEntry{
		ID:         uuid.NewString(),
		TenantID:   tenant,
		Action:     in.Action,
		EntityName: in.EntityName,
		EntityID:   in.EntityID,
		OldValues:  maskPII(in.OldValues),
		NewValues:  maskPII(in.NewValues),
		CreatedAt:  time.Now().UTC(),
	}
	if head == nil {
		entry.SequenceNumber = 1
		entry.PrevHash = ""
	} else {
		entry.SequenceNumber = head.SequenceNumber + 1
		entry.PrevHash = head.Hash
	}
	entry.Hash = entryDigest(entry, entry.PrevHash)

	return uow.Audit().Append(ctx, entry)
}

// BestEffortAppend records an entry, logging and swallowing any failure.
// Audit is supplementary to the primary state mutation: a broken audit write
// must never roll back a committed workflow step.
func (ac *AuditChain) BestEffortAppend(ctx context.Context, uow UnitOfWork, tenant TenantID, in AppendInput, logger *zap.Logger) {
	if err := ac.Append(ctx, uow, tenant, in); err != nil {
		if ac.OnFailure != nil {
			ac.OnFailure()
		}
		if logger != nil {
			logger.Warn("audit append failed",
				zap.String("tenant", string(tenant)),
				zap.String("action", in.Action),
				zap.String("entity", in.EntityName+"/"+in.EntityID),
				zap.Error(err))
		}
	}
}

// VerifyResult reports chain integrity. BrokenEntryID identifies the first
// entry whose linkage or digest does not match.
type VerifyResult struct {
	Valid         bool
	Entries       int
	BrokenEntryID string
}

// VerifyChain replays the tenant's chain and checks both invariants: hash
// linkage to the previous entry and the recomputed content digest.
func (ac *AuditChain) VerifyChain(ctx context.Context, uow UnitOfWork, tenant TenantID) (VerifyResult, error) {
	if uow == nil {
		return VerifyResult{}, ErrTransactionRequired
	}
	entries, err := uow.Audit().Chain(ctx, tenant)
	if err != nil {
		return VerifyResult{}, err
	}

	prevHash := ""
	for _, e := range entries {
		if e.PrevHash != prevHash || e.Hash != entryDigest(e, e.PrevHash) {
			return VerifyResult{Valid: false, Entries: len(entries), BrokenEntryID: e.ID}, nil
		}
		prevHash = e.Hash
	}
	return VerifyResult{Valid: true, Entries: len(entries)}, nil
}
