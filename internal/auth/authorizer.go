// Package auth enforces an access-control policy on connected clients
// before a tree command reaches RaftCore.
package auth

import (
	"fmt"

	"github.com/casbin/casbin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Authorizer checks a client's TLS subject against a casbin ACL model
// and policy before allowing it to read or write the tree.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// New returns an Authorizer backed by the given casbin model and policy
// files (model.conf / policy.csv), the same layout the cluster's
// operator configures per server.
func New(model, policy string) *Authorizer {
	enforcer := casbin.NewEnforcer(model, policy)
	return &Authorizer{enforcer: enforcer}
}

// Authorize reports whether subject may perform action on object,
// returning a gRPC PermissionDenied status if not.
func (a *Authorizer) Authorize(subject, object, action string) error {
	if !a.enforcer.Enforce(subject, object, action) {
		errMsg := fmt.Sprintf("%s not permitted to %s on %s", subject, action, object)
		return status.New(codes.PermissionDenied, errMsg).Err()
	}
	return nil
}
