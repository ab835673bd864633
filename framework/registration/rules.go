package registration

import (
	"reflect"
	"slices"

	"github.com/km-arc/go-ioc/framework/lifetime"
	"github.com/km-arc/go-ioc/framework/typeinfo"
)

// Context is the part of the resolution state selection rules look at.
type Context interface {
	ScopeNames() []string
	RequiredMetadata() reflect.Type
}

// Rule scores one candidate. A candidate must be eligible under every rule
// of a set; each bonus adds one to its weight.
type Rule interface {
	Match(info *typeinfo.Info, reg *Registration, ctx Context) (eligible, bonus bool)
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(info *typeinfo.Info, reg *Registration, ctx Context) (bool, bool)

func (f RuleFunc) Match(info *typeinfo.Info, reg *Registration, ctx Context) (bool, bool) {
	return f(info, reg, ctx)
}

// GenericRule checks an open generic's constraints against the request.
var GenericRule Rule = RuleFunc(func(info *typeinfo.Info, reg *Registration, _ Context) (bool, bool) {
	if !reg.OpenGeneric {
		return true, false
	}
	return typeinfo.SatisfiesConstraints(info.Type, reg.Constraints), false
})

// NameRule matches the requested dependency name.
type NameRule struct {
	Universal        string
	NameAsDependency bool
}

func (n NameRule) Match(info *typeinfo.Info, reg *Registration, _ Context) (bool, bool) {
	if info.Name == "" {
		return true, false
	}
	if reg.Name == info.Name || (n.Universal != "" && reg.Name == n.Universal) {
		return true, true
	}
	if n.NameAsDependency && reg.Name == "" {
		return true, false
	}
	return false, false
}

// EnumerableNameRule filters collection requests by name. An unnamed
// request keeps every candidate.
type EnumerableNameRule struct {
	Universal        string
	NameAsDependency bool
}

func (n EnumerableNameRule) Match(info *typeinfo.Info, reg *Registration, _ Context) (bool, bool) {
	if info.Name == "" {
		return true, false
	}
	if reg.Name != "" && (reg.Name == info.Name || reg.Name == n.Universal) {
		return true, true
	}
	return n.NameAsDependency && reg.Name == "", false
}

// ScopeNameRule keeps registrations bound to named scopes out of requests
// made outside those scopes.
var ScopeNameRule Rule = RuleFunc(func(_ *typeinfo.Info, reg *Registration, ctx Context) (bool, bool) {
	named, ok := reg.Lifetime.(lifetime.ScopeNamed)
	if !ok {
		return true, false
	}
	current := ctx.ScopeNames()
	for _, n := range named.ScopeNames() {
		if slices.Contains(current, n) {
			return true, true
		}
	}
	return false, false
})

// ConditionRule evaluates registration conditions against the request.
var ConditionRule Rule = RuleFunc(func(info *typeinfo.Info, reg *Registration, _ Context) (bool, bool) {
	if reg.Conditions.IsEmpty() {
		return true, false
	}
	return reg.Conditions.SatisfiedBy(info), true
})

// MetadataRule keeps registrations whose metadata fits the requested type.
var MetadataRule Rule = RuleFunc(func(_ *typeinfo.Info, reg *Registration, ctx Context) (bool, bool) {
	want := ctx.RequiredMetadata()
	if want == nil {
		return true, false
	}
	return reg.Metadata != nil && reflect.TypeOf(reg.Metadata).AssignableTo(want), false
})

// RuleSets groups the rule sets used for each request shape.
type RuleSets struct {
	// TopLevel applies to types requested directly from a scope.
	TopLevel []Rule
	// Dependency applies to constructor parameters and members.
	Dependency []Rule
	// Enumerable applies to collection requests.
	Enumerable []Rule
	// Decorator selects decorators, which are never filtered by name.
	Decorator []Rule
}

// NewRuleSets builds the standard rule sets.
func NewRuleSets(universal string, nameAsDependency bool) RuleSets {
	name := NameRule{Universal: universal, NameAsDependency: nameAsDependency}
	return RuleSets{
		TopLevel:   []Rule{GenericRule, name, ScopeNameRule, MetadataRule},
		Dependency: []Rule{GenericRule, name, ScopeNameRule, ConditionRule, MetadataRule},
		Enumerable: []Rule{
			GenericRule,
			EnumerableNameRule{Universal: universal, NameAsDependency: nameAsDependency},
			ScopeNameRule,
			ConditionRule,
			MetadataRule,
		},
		Decorator: []Rule{GenericRule, ScopeNameRule, ConditionRule},
	}
}

// score evaluates every rule and returns the candidate's weight, or -1 when
// it is not eligible.
func score(info *typeinfo.Info, reg *Registration, ctx Context, rules []Rule) int {
	weight := 0
	for _, rule := range rules {
		eligible, bonus := rule.Match(info, reg, ctx)
		if !eligible {
			return -1
		}
		if bonus {
			weight++
		}
	}
	return weight
}
