package loner

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// namespaceSeparator separates nested scopes in a type name ("Mailers::SendEmail").
const namespaceSeparator = "::"

// JobType is the capability set a registered job type exposes to the admission controller.
type JobType interface {
	// Unique reports whether the type participates in uniqueness locking.
	Unique() bool
	// QueueTTL is the lock lifetime while a job is queued.
	QueueTTL() TTL
	// PostExecutionTTL is the lock lifetime after a job finished.
	PostExecutionTTL() TTL
}

// Keyer is implemented by job types that compute their own fingerprint.
// The job passed in carries the canonical type name and its arguments in
// decoded JSON form (see CanonicalArgs), the same before and after a queue
// round trip.
type Keyer interface {
	UniqueKey(job Job) string
}

// QueueNamer is implemented by job types that know their default queue.
type QueueNamer interface {
	Queue() string
}

// TypeRef is a resolved job type together with its canonical registry name.
type TypeRef struct {
	Name string
	Type JobType
}

// TypeResolver resolves type names to job types.
// Implementations must be safe for concurrent use.
type TypeResolver interface {
	ResolveType(name string) (TypeRef, error)
}

// TypeSpec is a declarative JobType.
type TypeSpec struct {
	QueueName   string               // Default queue of the type (optional)
	IsUnique    bool                 // Opt into uniqueness locking
	LockTTL     TTL                  // Lock lifetime while queued
	CooldownTTL TTL                  // Lock lifetime after execution
	KeyFunc     func(job Job) string // Custom fingerprint (optional)
}

func (s *TypeSpec) Unique() bool          { return s.IsUnique }
func (s *TypeSpec) QueueTTL() TTL         { return s.LockTTL }
func (s *TypeSpec) PostExecutionTTL() TTL { return s.CooldownTTL }
func (s *TypeSpec) Queue() string         { return s.QueueName }

// keyedTypeSpec adds the Keyer capability to a TypeSpec with a KeyFunc.
type keyedTypeSpec struct {
	*TypeSpec
}

func (s keyedTypeSpec) UniqueKey(job Job) string { return s.KeyFunc(job) }

// Registry maps namespaced type names to job types.
// It is safe for concurrent use; registration usually happens at startup.
type Registry struct {
	mu   sync.RWMutex
	root *registryNode
}

type registryNode struct {
	jobType  JobType
	children map[string]*registryNode
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{root: &registryNode{children: make(map[string]*registryNode)}}
}

// Register adds a job type under name, which may be an identifier or a slug.
// Intermediate namespace components are created as needed. A *TypeSpec with
// a KeyFunc is registered as a Keyer.
func (r *Registry) Register(name string, jobType JobType) error {
	if jobType == nil {
		return fmt.Errorf("job type %q is nil", name)
	}
	name, err := normalizeTypeName(name)
	if err != nil {
		return err
	}
	parts, err := splitTypeName(name)
	if err != nil {
		return err
	}
	if spec, ok := jobType.(*TypeSpec); ok && spec.KeyFunc != nil {
		jobType = keyedTypeSpec{spec}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	node := r.root
	for _, part := range parts {
		child, ok := node.children[part]
		if !ok {
			child = &registryNode{children: make(map[string]*registryNode)}
			node.children[part] = child
		}
		node = child
	}
	if node.jobType != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateType, strings.Join(parts, namespaceSeparator))
	}
	node.jobType = jobType
	return nil
}

// ResolveType resolves a raw identifier ("SendEmail", "Mailers::SendEmail")
// or a hyphenated slug ("send-email") to its registered job type.
func (r *Registry) ResolveType(name string) (TypeRef, error) {
	name, err := normalizeTypeName(name)
	if err != nil {
		return TypeRef{}, err
	}
	parts, err := splitTypeName(name)
	if err != nil {
		return TypeRef{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	node := r.root
	for i, part := range parts {
		child, ok := node.children[part]
		if !ok {
			return TypeRef{}, fmt.Errorf("%w: %s", ErrUnknownJobType, strings.Join(parts[:i+1], namespaceSeparator))
		}
		node = child
	}
	canonical := strings.Join(parts, namespaceSeparator)
	if node.jobType == nil {
		return TypeRef{}, fmt.Errorf("%w: %s", ErrNotJobType, canonical)
	}
	return TypeRef{Name: canonical, Type: node.jobType}, nil
}

// Classify converts a hyphenated slug to an identifier by upper-casing the
// first character of every segment and concatenating them:
//
//	Classify("send-email") // "SendEmail"
func Classify(slug string) (string, error) {
	segments := strings.Split(slug, "-")
	var b strings.Builder
	b.Grow(len(slug))
	for _, segment := range segments {
		if segment == "" {
			return "", fmt.Errorf("%w: empty segment in %q", ErrMalformedTypeName, slug)
		}
		first, size := utf8.DecodeRuneInString(segment)
		b.WriteRune(unicode.ToUpper(first))
		b.WriteString(segment[size:])
	}
	return b.String(), nil
}

// normalizeTypeName classifies hyphenated slugs and leaves identifiers as they are.
func normalizeTypeName(name string) (string, error) {
	if strings.Contains(name, "-") {
		return Classify(name)
	}
	return name, nil
}

// splitTypeName splits a namespaced name; a single leading separator is ignored.
func splitTypeName(name string) ([]string, error) {
	parts := strings.Split(name, namespaceSeparator)
	if len(parts) > 1 && parts[0] == "" {
		parts = parts[1:]
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedTypeName, name)
		}
	}
	return parts, nil
}
