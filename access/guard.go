package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/watercan/ledger-engine/ledger"
)

// =============================================================================
// IDENTITIES
// =============================================================================

// IdentityResolver verifies a bearer credential.
// It returns ErrUnauthenticated for unknown or malformed credentials.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// TokenTable maps static API tokens to identities.
type TokenTable map[string]Identity

func (t TokenTable) Resolve(_ context.Context, token string) (*Identity, error) {
	id, ok := t[token]
	if !ok || id.Subject == "" {
		return nil, ErrUnauthenticated
	}
	return &id, nil
}

// BearerSubject trusts the credential itself as the subject. It exists for
// local development behind a proxy that has already verified the caller.
type BearerSubject struct{}

func (BearerSubject) Resolve(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	return &Identity{Subject: token}, nil
}

// Chain tries each resolver in order and returns the first identity found.
type Chain []IdentityResolver

func (c Chain) Resolve(ctx context.Context, token string) (*Identity, error) {
	for _, r := range c {
		id, err := r.Resolve(ctx, token)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
	}
	return nil, ErrUnauthenticated
}

// =============================================================================
// ROLE STRATEGIES
// =============================================================================

// RoleSource answers the role of an identity. ok is false when the source
// has no opinion.
type RoleSource interface {
	Role(ctx context.Context, id Identity) (role Role, ok bool, err error)
}

type FailureMode int

const (
	FailClosed FailureMode = iota
	FallThrough
)

func (m FailureMode) String() string {
	if m == FallThrough {
		return "fall_through"
	}
	return "fail_closed"
}

type RoleStrategy struct {
	Name    string
	Source  RoleSource
	OnError FailureMode
}

// ClaimRole reads the role from an identity claim, such as provider metadata.
type ClaimRole struct {
	Claim string
}

func (c ClaimRole) Role(_ context.Context, id Identity) (Role, bool, error) {
	v, ok := id.Claims[c.Claim]
	if !ok || v == "" {
		return "", false, nil
	}
	r := Role(strings.ToLower(v))
	if !r.Valid() {
		return "", false, fmt.Errorf("claim %q has unknown role %q", c.Claim, v)
	}
	return r, true, nil
}

// OwnerList grants the owner role to configured subjects.
type OwnerList map[string]bool

func NewOwnerList(subjects []string) OwnerList {
	l := make(OwnerList, len(subjects))
	for _, s := range subjects {
		if s = strings.TrimSpace(s); s != "" {
			l[s] = true
		}
	}
	return l
}

func (l OwnerList) Role(_ context.Context, id Identity) (Role, bool, error) {
	if l[id.Subject] {
		return RoleOwner, true, nil
	}
	return "", false, nil
}

// CustomerLookup is the slice of the ledger the customer strategy needs.
type CustomerLookup interface {
	GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error)
}

// CustomerRecord treats anyone with a customer record as a customer.
type CustomerRecord struct {
	Customers CustomerLookup
}

func (c CustomerRecord) Role(ctx context.Context, id Identity) (Role, bool, error) {
	cust, err := c.Customers.GetCustomer(ctx, ledger.CustomerID(id.Subject))
	if err != nil {
		return "", false, err
	}
	if cust == nil {
		return "", false, nil
	}
	return RoleCustomer, true, nil
}

// =============================================================================
// GUARD
// =============================================================================

type Guard struct {
	Identities  IdentityResolver
	Strategies  []RoleStrategy
	DefaultRole Role // empty = deny callers no strategy recognises
	Logger      *zap.Logger
}

// Authenticate turns an Authorization header into a Caller.
func (g *Guard) Authenticate(ctx context.Context, authHeader string) (Caller, error) {
	token, ok := bearerToken(authHeader)
	if !ok {
		return Caller{}, ErrUnauthenticated
	}
	id, err := g.Identities.Resolve(ctx, token)
	if err != nil {
		return Caller{}, err
	}
	role, err := g.ResolveRole(ctx, *id)
	if err != nil {
		return Caller{}, err
	}
	return Caller{ID: id.Subject, Name: id.Name, Email: id.Email, Role: role}, nil
}

// ResolveRole runs the strategies in order.
func (g *Guard) ResolveRole(ctx context.Context, id Identity) (Role, error) {
	for _, s := range g.Strategies {
		role, ok, err := s.Source.Role(ctx, id)
		if err != nil {
			if s.OnError == FailClosed {
				g.logger().Warn("role strategy failed, refusing",
					zap.String("strategy", s.Name),
					zap.String("subject", id.Subject),
					zap.Error(err))
				return "", fmt.Errorf("%w: role strategy %s: %v", ErrForbidden, s.Name, err)
			}
			g.logger().Warn("role strategy failed, trying next",
				zap.String("strategy", s.Name),
				zap.String("subject", id.Subject),
				zap.Error(err))
			continue
		}
		if ok {
			return role, nil
		}
	}
	if g.DefaultRole == "" {
		return "", ErrForbidden
	}
	return g.DefaultRole, nil
}

func (g *Guard) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
