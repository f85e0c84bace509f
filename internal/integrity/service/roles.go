package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/comfortage/dataintegrity/internal/chain"
	"github.com/comfortage/dataintegrity/internal/integrity/model"
)

// RoleRegistry manages the capability grants held in the backend.
// Grants and revocations are Admin-gated mutations; Has is a plain read.
type RoleRegistry struct {
	transport chain.Transport
	session   submitter
	logger    *zap.Logger
}

// NewRoleRegistry creates a RoleRegistry over the given transport and session.
func NewRoleRegistry(transport chain.Transport, sess submitter, logger *zap.Logger) *RoleRegistry {
	return &RoleRegistry{transport: transport, session: sess, logger: logger}
}

func (r *RoleRegistry) preflight(ctx context.Context, actor, identity string, cap model.Capability) error {
	if identity == "" {
		return fmt.Errorf("%w: empty identity", model.ErrInvalidIdentifier)
	}
	if !cap.Valid() {
		return fmt.Errorf("%w: unknown capability %q", model.ErrInvalidIdentifier, cap)
	}
	held, err := r.transport.HasRole(ctx, actor, model.CapAdmin)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%w: %q lacks %s", model.ErrUnauthorized, actor, model.CapAdmin)
	}
	return nil
}

// Grant gives identity the capability. Granting an already-held
// capability commits as a no-op rather than failing.
func (r *RoleRegistry) Grant(ctx context.Context, actor, identity string, cap model.Capability) error {
	if err := r.preflight(ctx, actor, identity, cap); err != nil {
		return err
	}
	if _, err := r.session.Submit(ctx, chain.MutationRequest{
		Method: chain.MethodGrantRole,
		Sender: actor,
		Args: map[string]string{
			chain.ArgIdentity:   identity,
			chain.ArgCapability: string(cap),
		},
	}); err != nil {
		return err
	}

	r.logger.Info("capability granted",
		zap.String("identity", identity),
		zap.String("capability", string(cap)),
		zap.String("actor", actor),
	)
	return nil
}

// Revoke removes the capability from identity. Revoking a capability the
// identity does not hold is a no-op.
func (r *RoleRegistry) Revoke(ctx context.Context, actor, identity string, cap model.Capability) error {
	if err := r.preflight(ctx, actor, identity, cap); err != nil {
		return err
	}
	if _, err := r.session.Submit(ctx, chain.MutationRequest{
		Method: chain.MethodRevokeRole,
		Sender: actor,
		Args: map[string]string{
			chain.ArgIdentity:   identity,
			chain.ArgCapability: string(cap),
		},
	}); err != nil {
		return err
	}

	r.logger.Info("capability revoked",
		zap.String("identity", identity),
		zap.String("capability", string(cap)),
		zap.String("actor", actor),
	)
	return nil
}

// Has reports whether identity holds the capability.
func (r *RoleRegistry) Has(ctx context.Context, identity string, cap model.Capability) (bool, error) {
	return r.transport.HasRole(ctx, identity, cap)
}
