package accountability

import (
	"encoding/json"

	"github.com/fokuslabs/focusgate/internal/models"
)

func decodePartnership(raw json.RawMessage) (models.Partnership, error) {
	var p models.Partnership
	err := json.Unmarshal(raw, &p)
	return p, err
}

func decodeRequest(raw json.RawMessage) (models.UnlockRequest, error) {
	var r models.UnlockRequest
	err := json.Unmarshal(raw, &r)
	return r, err
}

func marshalEntity(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
