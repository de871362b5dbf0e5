// Package employeetest は社員ディレクトリのテスト用実装を提供します。
package employeetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ogurasousui/codex-offboarding/internal/core/actor"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee"
)

// Directory はメモリ上の社員ディレクトリです。
type Directory struct {
	mu           sync.Mutex
	employees    map[string]*employee.Employee
	capabilities map[actor.Capability][]string
	managers     map[string]employee.ManagerResolution

	RevokeCalls int
	// ListErr が設定されている場合 ListByCapability はエラーを返します。
	ListErr error
	// ResolveErr が設定されている場合 ResolveLineManager はエラーを返します。
	ResolveErr error
	// TransitionErr が設定されている場合 TransitionStatus はエラーを返します。
	TransitionErr error
}

// NewDirectory は空のディレクトリを生成します。
func NewDirectory() *Directory {
	return &Directory{
		employees:    make(map[string]*employee.Employee),
		capabilities: make(map[actor.Capability][]string),
		managers:     make(map[string]employee.ManagerResolution),
	}
}

// Add は社員を登録します。権限を指定するとその保持者として登録されます。
func (d *Directory) Add(e employee.Employee, caps ...actor.Capability) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e.Status == "" {
		e.Status = employee.StatusActive
	}
	clone := e
	d.employees[e.ID] = &clone
	for _, c := range caps {
		d.capabilities[c] = append(d.capabilities[c], e.ID)
	}
	return d
}

// SetManager は社員のライン管理者を登録します。
func (d *Directory) SetManager(employeeID, managerID string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.managers[employeeID] = employee.ManagerResolution{ManagerID: managerID, Outcome: employee.ManagerResolved}
	return d
}

// Get は登録済み社員の現在値を返します。
func (d *Directory) Get(id string) employee.Employee {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.employees[id]; ok {
		return *e
	}
	return employee.Employee{}
}

func (d *Directory) FindByID(_ context.Context, id string) (*employee.Employee, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.employees[id]
	if !ok {
		return nil, employee.ErrEmployeeNotFound
	}
	clone := *e
	return &clone, nil
}

func (d *Directory) TransitionStatus(_ context.Context, id string, from, to employee.Status, at time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.TransitionErr != nil {
		return false, d.TransitionErr
	}
	e, ok := d.employees[id]
	if !ok {
		return false, employee.ErrEmployeeNotFound
	}
	if e.Status != from {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = at
	return true, nil
}

func (d *Directory) RevokeAccess(_ context.Context, id string, at time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RevokeCalls++
	e, ok := d.employees[id]
	if !ok {
		return false, employee.ErrEmployeeNotFound
	}
	if e.AccessRevokedAt != nil {
		return false, nil
	}
	revoked := at
	e.AccessRevokedAt = &revoked
	return true, nil
}

func (d *Directory) ResolveLineManager(_ context.Context, employeeID string) (employee.ManagerResolution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ResolveErr != nil {
		return employee.ManagerResolution{}, d.ResolveErr
	}
	if r, ok := d.managers[employeeID]; ok {
		return r, nil
	}
	return employee.Unresolved("no department head on record"), nil
}

func (d *Directory) ListByCapability(_ context.Context, c actor.Capability) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	ids := append([]string(nil), d.capabilities[c]...)
	sort.Strings(ids)
	return ids, nil
}
