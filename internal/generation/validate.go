package generation

import (
	"strconv"
	"strings"

	"genflow/internal/services"
)

// ValidateRequest checks request well-formedness before any provider is involved.
func ValidateRequest(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return services.Wrap(services.ErrValidation, "generation", "validate", "prompt is empty", nil)
	}
	if _, ok := ParseKind(string(req.Kind)); !ok {
		return services.Wrap(services.ErrValidation, "generation", "validate", "unknown kind "+strconv.Quote(string(req.Kind)), nil)
	}
	if strings.TrimSpace(req.Provider) == "" {
		return services.Wrap(services.ErrValidation, "generation", "validate", "provider is not set", nil)
	}
	return nil
}
