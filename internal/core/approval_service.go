package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/adminease/assistant/internal/store"
)

// Roles recognized by the approval endpoints.
const (
	RoleManager           = "manager"
	RoleHR                = "hr"
	RoleIT                = "it"
	RoleFacilities        = "facilities"
	RoleFacilitiesManager = "facilities_manager"
	RoleFinance           = "finance"
	RoleLegal             = "legal"
	RoleEmployee          = "employee"
)

// Form types and the ordered approver chain each one moves through.
// Reject at any stage is terminal; approval at the last stage approves
// the form overall.
const (
	FormLeaveRequest        = "leave_request"
	FormPettyCash           = "petty_cash"
	FormITIncident          = "it_incident"
	FormPasswordReset       = "password_reset"
	FormMeetingRoom         = "meeting_room"
	FormFacilityAccess      = "facility_access"
	FormPurchaseRequisition = "purchase_requisition"
)

var approvalChains = map[string][]string{
	FormLeaveRequest:        {RoleManager, RoleHR},
	FormPettyCash:           {RoleManager, RoleFinance},
	FormITIncident:          {RoleIT},
	FormPasswordReset:       {RoleIT},
	FormMeetingRoom:         {RoleFacilities},
	FormFacilityAccess:      {RoleFacilities, RoleFacilitiesManager},
	FormPurchaseRequisition: {RoleManager, RoleFinance, RoleLegal},
}

// ApproverRoles returns the chain for a form type, or nil for unknown
// types.
func ApproverRoles(formType string) []string {
	return approvalChains[formType]
}

// Summary is the count breakdown a dashboard shows above its table.
type Summary struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// QueueItem is one row of a role's dashboard: the form plus the status
// label derived for that role's point of view.
type QueueItem struct {
	store.Form
	DerivedStatus string `json:"derived_status"`
}

type ApprovalService struct {
	dbStore *store.SQLiteStore
}

func NewApprovalService(db *store.SQLiteStore) *ApprovalService {
	return &ApprovalService{dbStore: db}
}

func (s *ApprovalService) SubmitForm(formType, employeeID, employeeName, payload string) (*store.Form, error) {
	chain := ApproverRoles(formType)
	if chain == nil {
		return nil, fmt.Errorf("unknown form type %q", formType)
	}
	if employeeID == "" || employeeName == "" {
		return nil, fmt.Errorf("employee_id and employee_name are required")
	}

	form := &store.Form{
		FormType:     formType,
		EmployeeID:   employeeID,
		EmployeeName: employeeName,
		Payload:      payload,
		StageRole:    chain[0],
		StageIndex:   0,
		Status:       store.FormStatusPending,
	}
	if err := s.dbStore.CreateForm(form); err != nil {
		return nil, fmt.Errorf("failed to create form: %w", err)
	}
	return form, nil
}

// QueueForRole returns the role's dashboard rows and summary counts.
// The employee pseudo-role sees its own submissions with granular
// stage labels instead of an approver queue.
func (s *ApprovalService) QueueForRole(role, externalUserID string) ([]QueueItem, Summary, error) {
	var forms []store.Form
	var err error
	if role == RoleEmployee {
		forms, err = s.dbStore.GetFormsByEmployee(externalUserID)
	} else {
		forms, err = s.dbStore.GetFormsForRole(role)
	}
	if err != nil {
		return nil, Summary{}, fmt.Errorf("failed to load forms for role %s: %w", role, err)
	}

	items := make([]QueueItem, 0, len(forms))
	var summary Summary
	for _, form := range forms {
		var label string
		if role == RoleEmployee {
			label = DeriveEmployeeStatus(form)
		} else {
			label = DeriveRoleStatus(form, role)
		}
		items = append(items, QueueItem{Form: form, DerivedStatus: label})

		switch {
		case strings.HasPrefix(label, "Pending"):
			summary.Pending++
		case strings.HasPrefix(label, "Approved"):
			summary.Approved++
		case strings.HasPrefix(label, "Rejected"):
			summary.Rejected++
		}
	}
	return items, summary, nil
}

func (s *ApprovalService) FormDetails(formID string) (*store.Form, error) {
	return s.dbStore.GetFormByID(formID)
}

// Decide records an approve/reject decision by role on a form. The
// form must be pending at that role's stage; anything else is a
// conflict and leaves stored state untouched.
func (s *ApprovalService) Decide(formID, role, decision, decidedBy string) (*store.Form, error) {
	if decision != store.FormStatusApproved && decision != store.FormStatusRejected {
		return nil, fmt.Errorf("invalid decision %q", decision)
	}

	form, err := s.dbStore.GetFormByID(formID)
	if err != nil {
		return nil, fmt.Errorf("failed to load form: %w", err)
	}
	if form == nil {
		return nil, fmt.Errorf("form not found")
	}
	if form.Status != store.FormStatusPending {
		return nil, fmt.Errorf("form is already %s", form.Status)
	}
	if form.StageRole != role {
		return nil, fmt.Errorf("form is waiting on %s, not %s", form.StageRole, role)
	}

	form.History = append(form.History, store.StageDecision{
		Role:      role,
		Status:    decision,
		DecidedBy: decidedBy,
		DecidedAt: time.Now(),
	})

	chain := ApproverRoles(form.FormType)
	switch {
	case decision == store.FormStatusRejected:
		form.Status = store.FormStatusRejected
	case form.StageIndex+1 < len(chain):
		form.StageIndex++
		form.StageRole = chain[form.StageIndex]
	default:
		form.Status = store.FormStatusApproved
	}

	if err := s.dbStore.UpdateForm(form); err != nil {
		return nil, fmt.Errorf("failed to persist decision: %w", err)
	}
	return form, nil
}

// DeriveRoleStatus maps a form onto the three-way label an approver
// dashboard renders. Pure function of the form and role.
func DeriveRoleStatus(form store.Form, role string) string {
	for _, d := range form.History {
		if d.Role == role {
			if d.Status == store.FormStatusApproved {
				return "Approved"
			}
			return "Rejected"
		}
	}
	if form.Status == store.FormStatusPending && form.StageRole == role {
		return "Pending"
	}
	// The form never reached this role: an earlier stage rejected it.
	if form.Status == store.FormStatusRejected {
		return "Rejected"
	}
	return "Pending"
}

// DeriveEmployeeStatus produces the granular label an employee sees
// for their own submission.
func DeriveEmployeeStatus(form store.Form) string {
	switch form.Status {
	case store.FormStatusApproved:
		return "Approved"
	case store.FormStatusRejected:
		for _, d := range form.History {
			if d.Status == store.FormStatusRejected {
				return "Rejected by " + roleLabel(d.Role)
			}
		}
		return "Rejected"
	default:
		return "Pending with " + roleLabel(form.StageRole)
	}
}

func roleLabel(role string) string {
	switch role {
	case RoleManager:
		return "Manager"
	case RoleHR:
		return "HR"
	case RoleIT:
		return "IT Support"
	case RoleFacilities:
		return "Facilities Desk"
	case RoleFacilitiesManager:
		return "Facilities Manager"
	case RoleFinance:
		return "Finance"
	case RoleLegal:
		return "Legal"
	default:
		return role
	}
}
