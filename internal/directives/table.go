// Package directives compiles the AppSync authorization and subscription
// directives of a schema into a per-field policy table and evaluates those
// policies at request time.
package directives

import (
	"sort"

	"github.com/pkg/errors"

	schema "github.com/hanpama/appsynclocal/internal/schema"
)

const (
	APIKey           = "aws_api_key"
	CognitoUserPools = "aws_cognito_user_pools"
	Subscribe        = "aws_subscribe"
)

// Kind identifies an authorization policy.
type Kind int

const (
	KindAPIKey Kind = iota + 1
	KindCognitoUserPools
)

func (k Kind) String() string {
	switch k {
	case KindAPIKey:
		return APIKey
	case KindCognitoUserPools:
		return CognitoUserPools
	}
	return "unknown"
}

// Policy is one authorization requirement on a field. Groups only applies to
// KindCognitoUserPools; an empty list requires authentication only.
type Policy struct {
	Kind   Kind
	Groups []string
}

// FieldKey names a field of an object type.
type FieldKey struct {
	Type  string
	Field string
}

func (k FieldKey) String() string { return k.Type + "." + k.Field }

// SubscribeSet is the set of mutation fields whose results are republished
// to subscriptions. It is immutable once built.
type SubscribeSet struct {
	names map[string]struct{}
}

// NewSubscribeSet builds a set from names; duplicates collapse.
func NewSubscribeSet(names ...string) SubscribeSet {
	s := SubscribeSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

func (s SubscribeSet) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

func (s SubscribeSet) Len() int { return len(s.names) }

// Names returns the members in sorted order.
func (s SubscribeSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Table is the compiled directive information of one schema build.
type Table struct {
	policies   map[FieldKey][]Policy
	subscribed SubscribeSet
	topics     map[string][]string
}

// Compile visits every object field once and records its directives in
// declaration order. Fields without AppSync directives get no entry.
func Compile(sch *schema.Schema) (*Table, error) {
	t := &Table{
		policies: make(map[FieldKey][]Policy),
		topics:   make(map[string][]string),
	}
	var subscribed []string
	for _, typ := range sch.ObjectTypes() {
		for _, f := range typ.Fields {
			key := FieldKey{Type: typ.Name, Field: f.Name}
			for _, d := range f.Directives {
				switch d.Name {
				case APIKey:
					t.policies[key] = append(t.policies[key], Policy{Kind: KindAPIKey})
				case CognitoUserPools:
					groups, ok := d.StringList("cognito_groups")
					if !ok {
						return nil, errors.Errorf("%s: @%s(cognito_groups:) must be a list of strings", key, d.Name)
					}
					t.policies[key] = append(t.policies[key], Policy{Kind: KindCognitoUserPools, Groups: groups})
				case Subscribe:
					mutations, ok := d.StringList("mutations")
					if !ok || mutations == nil {
						return nil, errors.Errorf("%s: @%s(mutations:) must be a list of strings", key, d.Name)
					}
					subscribed = append(subscribed, mutations...)
					if sch.RootTypeName(typ.Name) == "Subscription" {
						t.topics[f.Name] = append(t.topics[f.Name], mutations...)
					}
				}
			}
		}
	}
	t.subscribed = NewSubscribeSet(subscribed...)
	return t, nil
}

// Policies returns the policies of a field in declaration order.
func (t *Table) Policies(typeName, fieldName string) []Policy {
	if t == nil {
		return nil
	}
	return t.policies[FieldKey{Type: typeName, Field: fieldName}]
}

// Protected returns every field carrying at least one policy, sorted.
func (t *Table) Protected() []FieldKey {
	if t == nil {
		return nil
	}
	out := make([]FieldKey, 0, len(t.policies))
	for k := range t.policies {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Subscribed returns the set of mutations named by @aws_subscribe.
func (t *Table) Subscribed() SubscribeSet {
	if t == nil {
		return NewSubscribeSet()
	}
	return t.subscribed
}

// Topics returns the topics a subscription field listens on: the field's own
// name followed by the mutations its @aws_subscribe lists.
func (t *Table) Topics(subscriptionField string) []string {
	out := []string{subscriptionField}
	seen := map[string]bool{subscriptionField: true}
	if t == nil {
		return out
	}
	for _, m := range t.topics[subscriptionField] {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
