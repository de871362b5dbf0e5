package actor

import (
	"fmt"
	"sort"
	"strings"
)

// Capability は認可判定に使う権限フラグです。
type Capability int

const (
	CapHRManager Capability = iota + 1
	CapHROperations
	CapSystemAdmin
	CapFinance
	CapDepartmentHead
)

var capabilityNames = map[Capability]string{
	CapHRManager:      "hr_manager",
	CapHROperations:   "hr_operations",
	CapSystemAdmin:    "system_admin",
	CapFinance:        "finance",
	CapDepartmentHead: "department_head",
}

// All は定義済みの全権限を返します。
func All() []Capability {
	return []Capability{CapHRManager, CapHROperations, CapSystemAdmin, CapFinance, CapDepartmentHead}
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

// Valid は定義済みの権限かどうかを返します。
func (c Capability) Valid() bool {
	_, ok := capabilityNames[c]
	return ok
}

// ParseCapability は文字列表現から権限を解決します。
func ParseCapability(raw string) (Capability, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for c, n := range capabilityNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("actor: unknown capability %q", raw)
}

// CapabilitySet は権限の集合です。
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet は権限集合を生成します。
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has は権限を保持しているかを返します。
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Slice は権限を安定順で返します。
func (s CapabilitySet) Slice() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Actor は認証済みの操作主体です。
type Actor struct {
	ID           string
	Capabilities CapabilitySet
}

// New は Actor を生成します。
func New(id string, caps ...Capability) Actor {
	return Actor{ID: strings.TrimSpace(id), Capabilities: NewCapabilitySet(caps...)}
}

// Can は権限を保持しているかを返します。
func (a Actor) Can(c Capability) bool {
	return a.Capabilities.Has(c)
}

// Anonymous は ID が空かどうかを返します。
func (a Actor) Anonymous() bool {
	return a.ID == ""
}
