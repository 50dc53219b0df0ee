package loner

import (
	"log/slog"
)

// PolicyResolver looks up the uniqueness policy of a job type.
// Resolution fails closed: unknown, malformed, or non-unique types have no policy.
type PolicyResolver struct {
	types  TypeResolver
	logger *slog.Logger
}

// NewPolicyResolver creates a resolver over the given type registry.
func NewPolicyResolver(types TypeResolver, logger *slog.Logger) *PolicyResolver {
	return &PolicyResolver{types: types, logger: loggerOrDiscard(logger)}
}

// Resolve returns the policy of class and true, or false if the class does
// not take part in uniqueness locking.
func (r *PolicyResolver) Resolve(class string) (Policy, bool) {
	resolved, ok := r.resolve(class)
	if !ok {
		return Policy{}, false
	}
	return resolved.policy, true
}

// resolvedType is a unique job type with its normalized policy.
type resolvedType struct {
	ref    TypeRef
	policy Policy
}

func (r *PolicyResolver) resolve(class string) (resolvedType, bool) {
	if r.types == nil {
		return resolvedType{}, false
	}
	ref, err := r.types.ResolveType(class)
	if err != nil {
		r.logger.Debug("Resolve: job type not resolvable, treating as not unique", "class", class, "error", err)
		return resolvedType{}, false
	}
	if ref.Type == nil || !ref.Type.Unique() {
		return resolvedType{}, false
	}

	policy := Policy{
		QueueTTL:         ref.Type.QueueTTL(),
		PostExecutionTTL: ref.Type.PostExecutionTTL(),
	}
	// EXPIRE with a non-positive TTL deletes the key, which would release the
	// lock the moment it is taken.
	if !policy.QueueTTL.IsForever() && policy.QueueTTL.Duration() <= 0 {
		policy.QueueTTL = Forever
	}
	return resolvedType{ref: ref, policy: policy}, true
}
