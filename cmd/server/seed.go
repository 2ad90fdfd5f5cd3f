package main

import (
	"fmt"

	"github.com/adminease/assistant/internal/auth"
	"github.com/adminease/assistant/internal/core"
	"github.com/adminease/assistant/internal/store"
)

// seedDemoData creates one account per role plus a few forms at
// different workflow stages, so the dashboards have something to show
// on a fresh database. The demo password for every account is "demo".
func seedDemoData(db *store.SQLiteStore) (int, error) {
	created := 0

	users := map[string]string{
		"alice":  core.RoleEmployee,
		"marcus": core.RoleManager,
		"hana":   core.RoleHR,
		"igor":   core.RoleIT,
		"farah":  core.RoleFacilities,
		"felix":  core.RoleFacilitiesManager,
		"nadia":  core.RoleFinance,
		"leo":    core.RoleLegal,
	}
	hash, err := auth.HashPassword("demo")
	if err != nil {
		return created, fmt.Errorf("failed to hash demo password: %w", err)
	}
	for name, role := range users {
		existing, err := db.GetUserByExternalID(name)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		if _, err := db.CreateUser(name, hash, role); err != nil {
			return created, fmt.Errorf("failed to create demo user %s: %w", name, err)
		}
		created++
	}

	svc := core.NewApprovalService(db)

	pending, err := svc.SubmitForm(core.FormLeaveRequest, "alice", "Alice Demo", `{"days":5,"reason":"vacation"}`)
	if err != nil {
		return created, err
	}
	created++

	// One form mid-chain: the manager has approved, HR holds it now.
	if _, err := svc.Decide(pending.ID, core.RoleManager, store.FormStatusApproved, "marcus"); err != nil {
		return created, err
	}

	if _, err := svc.SubmitForm(core.FormPettyCash, "alice", "Alice Demo", `{"amount":75,"purpose":"team lunch"}`); err != nil {
		return created, err
	}
	created++

	if _, err := svc.SubmitForm(core.FormITIncident, "alice", "Alice Demo", `{"issue":"laptop will not boot"}`); err != nil {
		return created, err
	}
	created++

	return created, nil
}
