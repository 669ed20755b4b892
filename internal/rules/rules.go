// Package rules models the configured gift-matching rules.
//
// There are exactly two rule families: match by gift name and match by
// gift id. Each family carries its own threshold and is evaluated
// independently; a donor triggers under whichever family crosses first.
package rules

import (
	"github.com/lunargate/giftwatch/internal/db"
)

// Kind tags the closed set of rule families.
type Kind string

const (
	KindName Kind = "name"
	KindID   Kind = "id"
)

// Rule is one matching-rule family. A family with no configured values
// is inert: it matches nothing and never triggers.
type Rule struct {
	Kind      Kind
	Names     []string // KindName only
	IDs       []int64  // KindID only
	Threshold int

	nameSet map[string]struct{}
	idSet   map[int64]struct{}
}

// NewNameRule builds a gift-name rule family.
func NewNameRule(names []string, threshold int) Rule {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return Rule{Kind: KindName, Names: names, Threshold: threshold, nameSet: set}
}

// NewIDRule builds a gift-id rule family.
func NewIDRule(ids []int64, threshold int) Rule {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Rule{Kind: KindID, IDs: ids, Threshold: threshold, idSet: set}
}

// Inert reports whether the family has no configured values.
func (r Rule) Inert() bool {
	return len(r.nameSet) == 0 && len(r.idSet) == 0
}

// Matches reports whether the event is relevant to this family.
func (r Rule) Matches(ev *db.GiftEvent) bool {
	switch r.Kind {
	case KindName:
		_, ok := r.nameSet[ev.GiftName]
		return ok
	case KindID:
		_, ok := r.idSet[ev.GiftID]
		return ok
	default:
		return false
	}
}

// Set is the full configured rule set for a room.
type Set struct {
	rules []Rule
}

// NewSet assembles a rule set, dropping inert families up front.
func NewSet(rules ...Rule) Set {
	var active []Rule
	for _, r := range rules {
		if !r.Inert() {
			active = append(active, r)
		}
	}
	return Set{rules: active}
}

// Matching returns the families this event is relevant to, in
// configured order.
func (s Set) Matching(ev *db.GiftEvent) []Rule {
	var out []Rule
	for _, r := range s.rules {
		if r.Matches(ev) {
			out = append(out, r)
		}
	}
	return out
}

// Empty reports whether no family is configured at all.
func (s Set) Empty() bool {
	return len(s.rules) == 0
}
