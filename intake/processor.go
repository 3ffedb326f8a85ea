package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
)

// ErrInvalidEnvelope marks envelopes rejected before any storage work happens.
var ErrInvalidEnvelope = errors.New("intake: invalid envelope")

// Envelope is the trusted intake payload. Authenticity checks happen upstream;
// the processor never re-verifies signatures.
type Envelope struct {
	ExternalID string
	Category   string
	Payload    json.RawMessage
	OccurredAt *time.Time
}

// Ingestor is the slice of the ingest service the processor needs.
type Ingestor interface {
	Ingest(ctx context.Context, input core.EventInput) (core.Receipt, error)
}

// Verifier is an optional second guard for deployments that want an envelope
// check at the processor boundary.
type Verifier interface {
	Verify(ctx context.Context, env Envelope) error
}

type TenantHintExtractor func(payload map[string]any) string

type Processor struct {
	Service       Ingestor
	Verifier      Verifier
	ExtractTenant TenantHintExtractor
}

func NewProcessor(service Ingestor) *Processor {
	return &Processor{
		Service:       service,
		ExtractTenant: DefaultTenantHintExtractor,
	}
}

// Process validates the envelope and forwards it to the ingest service. The
// receipt acknowledges storage, not consumer outcomes; consumer failures stay
// inside the dispatch ledger unless the service runs in sync-ack mode.
func (p *Processor) Process(ctx context.Context, env Envelope) (core.Receipt, error) {
	if p == nil || p.Service == nil {
		return core.Receipt{}, fmt.Errorf("intake: processor requires an ingest service")
	}

	externalID := strings.TrimSpace(env.ExternalID)
	if externalID == "" {
		return core.Receipt{}, fmt.Errorf("%w: external id is required", ErrInvalidEnvelope)
	}
	env.ExternalID = externalID

	category := strings.TrimSpace(env.Category)
	if category == "" {
		return core.Receipt{}, fmt.Errorf("%w: category is required", ErrInvalidEnvelope)
	}
	env.Category = category

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, env); err != nil {
			return core.Receipt{}, fmt.Errorf("intake: envelope rejected: %w", err)
		}
	}

	payload, err := decodePayload(env.Payload)
	if err != nil {
		return core.Receipt{}, err
	}

	extractor := p.ExtractTenant
	if extractor == nil {
		extractor = DefaultTenantHintExtractor
	}

	return p.Service.Ingest(ctx, core.EventInput{
		ExternalID: externalID,
		Category:   category,
		Payload:    payload,
		TenantHint: extractor(payload),
		OccurredAt: env.OccurredAt,
	})
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload must be a JSON document: %v", ErrInvalidEnvelope, err)
	}
	return payload, nil
}

// DefaultTenantHintExtractor reads metadata.tenant_id and falls back to a
// top-level tenant_id. Providers are inconsistent about where they put it.
func DefaultTenantHintExtractor(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	if metadata, ok := payload["metadata"].(map[string]any); ok {
		if hint := hintValue(metadata["tenant_id"]); hint != "" {
			return hint
		}
	}
	return hintValue(payload["tenant_id"])
}

func hintValue(value any) string {
	if value == nil {
		return ""
	}
	hint := strings.TrimSpace(fmt.Sprint(value))
	if hint == "<nil>" {
		return ""
	}
	return hint
}
