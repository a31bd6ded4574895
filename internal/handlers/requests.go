package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/nfrund/consoled/internal/domain"
)

// decodeArg unmarshals a JSON call argument into T and validates its struct
// tags.
func decodeArg[T any](h *Handlers, raw string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
	}
	return v, nil
}
