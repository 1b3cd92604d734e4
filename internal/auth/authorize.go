package auth

import (
	"context"
	"fmt"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
)

// Capability names a privilege checked against a verified principal.
type Capability string

const CapabilityAdmin Capability = "admin"

// Authorize checks capability against the principal verified earlier in the
// request. It never looks at raw tokens. Unknown capabilities are denied.
func Authorize(ctx context.Context, capability Capability) (domain.Principal, error) {
	v, ok := FromContext(ctx)
	if !ok {
		return domain.Principal{}, ErrUnauthenticated
	}

	p := v.Principal()
	if !Has(p, capability) {
		return p, fmt.Errorf("%w: %s", ErrForbidden, capability)
	}
	return p, nil
}

// Has reports whether p holds capability.
func Has(p domain.Principal, capability Capability) bool {
	switch capability {
	case CapabilityAdmin:
		return p.IsAdmin
	default:
		return false
	}
}
