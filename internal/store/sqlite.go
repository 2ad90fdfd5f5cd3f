package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT 'employee',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        session_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'model')),
        content TEXT NOT NULL,
        timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (session_id) REFERENCES sessions (id)
    );

    CREATE TABLE IF NOT EXISTS uploaded_files (
        id TEXT PRIMARY KEY,
        session_id TEXT NOT NULL,
        filename TEXT NOT NULL,
        original_filename TEXT NOT NULL,
        size_bytes INTEGER NOT NULL DEFAULT 0,
        row_count INTEGER NOT NULL DEFAULT 0,
        column_count INTEGER NOT NULL DEFAULT 0,
        sheet_url TEXT NOT NULL DEFAULT '',
        active BOOLEAN NOT NULL DEFAULT FALSE,
        uploaded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (session_id) REFERENCES sessions (id)
    );

    CREATE TABLE IF NOT EXISTS forms (
        id TEXT PRIMARY KEY, -- UUID
        form_type TEXT NOT NULL,
        employee_id TEXT NOT NULL,
        employee_name TEXT NOT NULL,
        payload TEXT NOT NULL DEFAULT '{}',
        stage_role TEXT NOT NULL,
        stage_index INTEGER NOT NULL DEFAULT 0,
        status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
        history TEXT NOT NULL DEFAULT '[]', -- JSON array of stage decisions
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) GetUserByExternalID(externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, role, created_at FROM users WHERE external_user_id = ?", externalUserID).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(externalUserID, passwordHash, role string) (*User, error) {
	res, err := s.db.Exec("INSERT INTO users (external_user_id, password_hash, role) VALUES (?, ?, ?)",
		externalUserID, passwordHash, role)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(id)
}

func (s *SQLiteStore) getUserByID(id int64) (*User, error) {
	var user User
	err := s.db.QueryRow("SELECT id, external_user_id, password_hash, role, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Session methods
func (s *SQLiteStore) CreateSession(userID int64, title *string) (*Session, error) {
	sessionID := uuid.NewString()
	stmt, err := s.db.Prepare("INSERT INTO sessions (id, user_id, title, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare session insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	_, err = stmt.Exec(sessionID, userID, title, now)
	if err != nil {
		return nil, fmt.Errorf("failed to execute session insert: %w", err)
	}
	return &Session{ID: sessionID, UserID: userID, Title: title, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetSessionByID(sessionID string, userID int64) (*Session, error) {
	var session Session
	var title sql.NullString
	err := s.db.QueryRow("SELECT id, user_id, title, created_at FROM sessions WHERE id = ? AND user_id = ?", sessionID, userID).
		Scan(&session.ID, &session.UserID, &title, &session.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if title.Valid {
		session.Title = &title.String
	}
	return &session, nil
}

func (s *SQLiteStore) GetSessionsByUserID(userID int64) ([]Session, error) {
	rows, err := s.db.Query("SELECT id, user_id, title, created_at FROM sessions WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var session Session
		var title sql.NullString
		if err := rows.Scan(&session.ID, &session.UserID, &title, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if title.Valid {
			session.Title = &title.String
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *SQLiteStore) UpdateSessionTitle(sessionID string, userID int64, title string) error {
	stmt, err := s.db.Prepare("UPDATE sessions SET title = ? WHERE id = ? AND user_id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare session title update: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(title, sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to update session title: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearSession(sessionID string, userID int64) error {
	if _, err := s.db.Exec("DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear session messages: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM uploaded_files WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear session files: %w", err)
	}
	return nil
}

// Message methods
func (s *SQLiteStore) CreateMessage(msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	_, err := s.db.Exec("INSERT INTO messages (id, session_id, sender, content, timestamp) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, msg.Sender, msg.Content, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessagesBySessionID(sessionID string, limit, offset int) ([]Message, error) {
	rows, err := s.db.Query("SELECT id, session_id, sender, content, timestamp FROM messages WHERE session_id = ? ORDER BY timestamp ASC LIMIT ? OFFSET ?",
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *SQLiteStore) GetLastNMessagesBySessionID(sessionID string, n int) ([]Message, error) {
	rows, err := s.db.Query("SELECT id, session_id, sender, content, timestamp FROM (SELECT * FROM messages WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?) ORDER BY timestamp ASC",
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *SQLiteStore) CountMessagesBySessionID(sessionID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// Uploaded file methods
func (s *SQLiteStore) CreateUploadedFile(file *UploadedFile) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now()
	}
	// The most recent upload becomes the session's active file.
	if _, err := s.db.Exec("UPDATE uploaded_files SET active = FALSE WHERE session_id = ?", file.SessionID); err != nil {
		return fmt.Errorf("failed to deactivate previous files: %w", err)
	}
	file.Active = true
	_, err := s.db.Exec(`INSERT INTO uploaded_files
        (id, session_id, filename, original_filename, size_bytes, row_count, column_count, sheet_url, active, uploaded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.SessionID, file.Filename, file.OriginalFilename, file.SizeBytes,
		file.Rows, file.Columns, file.SheetURL, file.Active, file.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to insert uploaded file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFilesBySessionID(sessionID string) ([]UploadedFile, error) {
	rows, err := s.db.Query(`SELECT id, session_id, filename, original_filename, size_bytes, row_count, column_count, sheet_url, active, uploaded_at
        FROM uploaded_files WHERE session_id = ? ORDER BY uploaded_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session files: %w", err)
	}
	defer rows.Close()

	var files []UploadedFile
	for rows.Next() {
		var f UploadedFile
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Filename, &f.OriginalFilename, &f.SizeBytes,
			&f.Rows, &f.Columns, &f.SheetURL, &f.Active, &f.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		files = append(files, f)
	}
	return files, nil
}

func (s *SQLiteStore) SetActiveFile(sessionID, fileID string) error {
	if _, err := s.db.Exec("UPDATE uploaded_files SET active = FALSE WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to deactivate files: %w", err)
	}
	res, err := s.db.Exec("UPDATE uploaded_files SET active = TRUE WHERE session_id = ? AND id = ?", sessionID, fileID)
	if err != nil {
		return fmt.Errorf("failed to activate file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file not found")
	}
	return nil
}

// Form methods
func (s *SQLiteStore) CreateForm(form *Form) error {
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	now := time.Now()
	if form.CreatedAt.IsZero() {
		form.CreatedAt = now
	}
	form.UpdatedAt = now
	if form.Status == "" {
		form.Status = FormStatusPending
	}
	if form.Payload == "" {
		form.Payload = "{}"
	}

	historyJSON, err := json.Marshal(form.History)
	if err != nil {
		return fmt.Errorf("failed to marshal form history: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO forms
        (id, form_type, employee_id, employee_name, payload, stage_role, stage_index, status, history, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		form.ID, form.FormType, form.EmployeeID, form.EmployeeName, form.Payload,
		form.StageRole, form.StageIndex, form.Status, string(historyJSON), form.CreatedAt, form.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert form: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFormByID(formID string) (*Form, error) {
	row := s.db.QueryRow(`SELECT id, form_type, employee_id, employee_name, payload, stage_role, stage_index, status, history, created_at, updated_at
        FROM forms WHERE id = ?`, formID)
	form, err := scanForm(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get form: %w", err)
	}
	return form, nil
}

// GetFormsForRole returns every form currently waiting at the role's
// stage plus forms the role has already decided, newest first. History
// is stored as a JSON string, so prior involvement is matched the same
// way embeddings were matched in JSON columns: by substring.
func (s *SQLiteStore) GetFormsForRole(role string) ([]Form, error) {
	pattern := fmt.Sprintf(`%%"role":"%s"%%`, role)
	rows, err := s.db.Query(`SELECT id, form_type, employee_id, employee_name, payload, stage_role, stage_index, status, history, created_at, updated_at
        FROM forms WHERE stage_role = ? OR history LIKE ? ORDER BY created_at DESC`, role, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to query forms for role: %w", err)
	}
	defer rows.Close()
	return collectForms(rows)
}

func (s *SQLiteStore) GetFormsByEmployee(employeeID string) ([]Form, error) {
	rows, err := s.db.Query(`SELECT id, form_type, employee_id, employee_name, payload, stage_role, stage_index, status, history, created_at, updated_at
        FROM forms WHERE employee_id = ? ORDER BY created_at DESC`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query employee forms: %w", err)
	}
	defer rows.Close()
	return collectForms(rows)
}

func (s *SQLiteStore) UpdateForm(form *Form) error {
	form.UpdatedAt = time.Now()
	historyJSON, err := json.Marshal(form.History)
	if err != nil {
		return fmt.Errorf("failed to marshal form history: %w", err)
	}
	res, err := s.db.Exec(`UPDATE forms SET stage_role = ?, stage_index = ?, status = ?, history = ?, updated_at = ? WHERE id = ?`,
		form.StageRole, form.StageIndex, form.Status, string(historyJSON), form.UpdatedAt, form.ID)
	if err != nil {
		return fmt.Errorf("failed to update form: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("form not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanForm(row rowScanner) (*Form, error) {
	var form Form
	var historyJSON string
	err := row.Scan(&form.ID, &form.FormType, &form.EmployeeID, &form.EmployeeName, &form.Payload,
		&form.StageRole, &form.StageIndex, &form.Status, &historyJSON, &form.CreatedAt, &form.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(historyJSON), &form.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal form history: %w", err)
	}
	return &form, nil
}

func collectForms(rows *sql.Rows) ([]Form, error) {
	var forms []Form
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan form row: %w", err)
		}
		forms = append(forms, *form)
	}
	return forms, nil
}
