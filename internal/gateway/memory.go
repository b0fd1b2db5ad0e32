package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fokuslabs/focusgate/internal/models"
)

// MemoryRepository is a map-backed Repository used by tests and by the
// syncd -memory flag for local development without Postgres.
type MemoryRepository struct {
	mu      sync.Mutex
	rows    map[models.Kind]map[string]json.RawMessage
	devices map[string]Device
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:    make(map[models.Kind]map[string]json.RawMessage),
		devices: make(map[string]Device),
	}
}

func (r *MemoryRepository) SelectEq(_ context.Context, kind models.Kind, field, value string) ([]json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []json.RawMessage
	for _, data := range r.rows[kind] {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		if v, ok := doc[field].(string); ok && v == value {
			out = append(out, data)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Get(_ context.Context, kind models.Kind, id string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.rows[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (r *MemoryRepository) Upsert(_ context.Context, kind models.Kind, id, _ string, data json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rows[kind] == nil {
		r.rows[kind] = make(map[string]json.RawMessage)
	}
	_, existed := r.rows[kind][id]
	r.rows[kind][id] = data
	return !existed, nil
}

func (r *MemoryRepository) Update(_ context.Context, kind models.Kind, id string, data json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[kind][id]; !ok {
		return ErrNotFound
	}
	r.rows[kind][id] = data
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, kind models.Kind, id string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.rows[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.rows[kind], id)
	return data, nil
}

func (r *MemoryRepository) RecordApproval(_ context.Context, approvalID string, data json.RawMessage, requestID, partnerUserID string) (ApprovalResult, error) {
	var approval models.UnlockApproval
	if err := json.Unmarshal(data, &approval); err != nil {
		return ApprovalResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, raw := range r.rows[models.KindUnlockApproval] {
		var existing models.UnlockApproval
		if err := json.Unmarshal(raw, &existing); err != nil {
			continue
		}
		if existing.RequestID == requestID && existing.PartnerUserID == partnerUserID {
			return ApprovalResult{}, nil
		}
	}

	raw, ok := r.rows[models.KindUnlockRequest][requestID]
	if !ok {
		return ApprovalResult{}, ErrRequestNotFound
	}
	var req models.UnlockRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ApprovalResult{}, err
	}

	if r.rows[models.KindUnlockApproval] == nil {
		r.rows[models.KindUnlockApproval] = make(map[string]json.RawMessage)
	}
	r.rows[models.KindUnlockApproval][approvalID] = data

	req.ReceivedApprovals++
	if req.Status == models.UnlockRequestPending && req.ReceivedApprovals >= req.RequiredApprovals {
		req.Status = models.UnlockRequestApproved
		req.ResolvedAt = time.Now().UTC()
	}
	updated, err := json.Marshal(req)
	if err != nil {
		return ApprovalResult{}, err
	}
	r.rows[models.KindUnlockRequest][requestID] = updated

	return ApprovalResult{Inserted: true, Request: updated, RequestOwner: req.UserID}, nil
}

func (r *MemoryRepository) CreateDevice(_ context.Context, d Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[d.ID]; ok {
		return ErrDeviceExists
	}
	r.devices[d.ID] = d
	return nil
}

func (r *MemoryRepository) GetDevice(_ context.Context, id string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return d, nil
}

var _ Repository = (*MemoryRepository)(nil)
var _ Repository = (*PostgresRepository)(nil)
