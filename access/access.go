/*
Package access resolves who is calling and what they may do.

FLOW:
  bearer credential --IdentityResolver--> Identity --RoleStrategy list--> Caller

  The token format belongs to the identity provider; this package only
  consumes the verified identity. Role resolution runs an ordered list of
  strategies. Each strategy either answers (first answer wins), has no
  opinion, or fails. What a failure means is declared on the strategy:

    FailClosed   - the request is refused
    FallThrough  - the failure is logged and the next strategy runs

  When no strategy answers, DefaultRole applies. An empty DefaultRole
  refuses the request.

CALLER:
  The resolved Caller is returned to the transport layer, which passes it
  explicitly to whatever needs it. It is never stashed in a context.
*/
package access

import (
	"errors"

	"github.com/watercan/ledger-engine/ledger"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("permission denied")
)

type Role string

const (
	RoleOwner    Role = "owner"
	RoleCustomer Role = "customer"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleCustomer
}

// Identity is what the identity provider vouches for.
type Identity struct {
	Subject string
	Name    string
	Email   string
	Claims  map[string]string
}

// Caller is an authenticated identity with its resolved role.
type Caller struct {
	ID    string
	Name  string
	Email string
	Role  Role
}

func (c Caller) IsOwner() bool {
	return c.Role == RoleOwner
}

// CustomerID is the customer record owned by the caller.
func (c Caller) CustomerID() ledger.CustomerID {
	return ledger.CustomerID(c.ID)
}

// CanAccessCustomer reports whether the caller may read or change the given
// customer's data: owners may access anyone, customers only themselves.
func (c Caller) CanAccessCustomer(id ledger.CustomerID) bool {
	return c.IsOwner() || (c.ID != "" && ledger.CustomerID(c.ID) == id)
}
