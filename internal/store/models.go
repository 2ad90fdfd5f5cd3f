package store

import "time"

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

type Session struct {
	ID        string    `json:"id"` // Using UUID for external ID
	UserID    int64     `json:"user_id"`
	Title     *string   `json:"title"` // Nullable
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID        string    `json:"id"` // Using UUID for external ID
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"` // "user" or "model"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// UploadedFile records a spreadsheet loaded into a session, either from
// a direct upload or a Google Sheet import.
type UploadedFile struct {
	ID               string    `json:"file_id"`
	SessionID        string    `json:"session_id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	SizeBytes        int64     `json:"size_bytes"`
	Rows             int       `json:"rows"`
	Columns          int       `json:"columns"`
	SheetURL         string    `json:"sheet_url,omitempty"`
	Active           bool      `json:"active"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// Form statuses as stored. Derived display labels live in core.
const (
	FormStatusPending  = "pending"
	FormStatusApproved = "approved"
	FormStatusRejected = "rejected"
)

// StageDecision records one approver's decision on a form.
type StageDecision struct {
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	DecidedBy string    `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
}

// Form is a submitted request moving through a multi-stage approval
// chain. StageRole/StageIndex identify the role currently holding it;
// Status is the overall outcome and stays pending until the last stage
// approves or any stage rejects.
type Form struct {
	ID           string          `json:"id"` // UUID
	FormType     string          `json:"form_type"`
	EmployeeID   string          `json:"employee_id"`
	EmployeeName string          `json:"employee_name"`
	Payload      string          `json:"payload"` // JSON document of form fields
	StageRole    string          `json:"stage_role"`
	StageIndex   int             `json:"stage_index"`
	Status       string          `json:"status"`
	History      []StageDecision `json:"history"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
