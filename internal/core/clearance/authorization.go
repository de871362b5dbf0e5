package clearance

import (
	"fmt"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
)

var departmentCapabilities = map[Department]actor.Capability{
	DepartmentLineManager: actor.CapDepartmentHead,
	DepartmentIT:          actor.CapSystemAdmin,
	DepartmentFinance:     actor.CapFinance,
	DepartmentHREmployee:  actor.CapHROperations,
	DepartmentHR:          actor.CapHRManager,
}

// RequiredCapability は部門の項目を更新できる権限を返します。
func RequiredCapability(d Department) (actor.Capability, bool) {
	c, ok := departmentCapabilities[d]
	return c, ok
}

// approvalCapability は APPROVED への更新に追加で必要な権限です。
var approvalCapability = map[Department]actor.Capability{
	DepartmentHR: actor.CapHRManager,
}

func authorize(who actor.Actor, item *Item, status ItemStatus) error {
	required, ok := RequiredCapability(item.Department)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDepartmentNotFound, item.Department)
	}

	allowed := who.Can(required)
	if item.Department == DepartmentLineManager && item.AssignedTo != "" && who.ID == item.AssignedTo {
		allowed = true
	}
	if !allowed {
		return fmt.Errorf("%w: department %s requires %s", ErrForbidden, item.Department, required)
	}

	if status == ItemApproved {
		if extra, ok := approvalCapability[item.Department]; ok && !who.Can(extra) {
			return fmt.Errorf("%w: approving %s requires %s", ErrForbidden, item.Department, extra)
		}
	}
	return nil
}

func inCoreChain(d Department) bool {
	for _, link := range coreChain {
		if link == d {
			return true
		}
	}
	return false
}

func checkOrder(c *Checklist, d Department) error {
	if !inCoreChain(d) {
		return nil
	}
	for _, earlier := range coreChain {
		if earlier == d {
			return nil
		}
		item, ok := c.Item(earlier)
		if !ok || item.Status != ItemApproved {
			return fmt.Errorf("%w: department %s requires %s approved first", ErrOutOfOrder, d, earlier)
		}
	}
	return nil
}
