package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	"github.com/mattn/go-sqlite3"

	"github.com/josephai/jai-chat/internal/auth"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// ErrDuplicate reports a unique constraint violation, e.g. a username that is already taken.
var ErrDuplicate = errors.New("duplicate record")

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type SQLStore struct {
	db     *sql.DB
	driver string
}

func Open(driver, dataSourceName string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection: keeps :memory: databases shared and avoids SQLITE_BUSY on writes.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLStore{db: db, driver: driver}
	if err = store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// User methods
func (s *SQLStore) CreateUser(ctx context.Context, username, name, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.exec(ctx, "INSERT INTO users (id, username, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Username, user.Name, user.PasswordHash, user.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("username %q: %w", username, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, "username", username)
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLStore) getUser(ctx context.Context, column, value string) (*User, error) {
	var user User
	err := s.queryRow(ctx, "SELECT id, username, name, password_hash, created_at FROM users WHERE "+column+" = ?", value).
		Scan(&user.ID, &user.Username, &user.Name, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Admin methods
func (s *SQLStore) CreateAdminUser(ctx context.Context, username, passwordHash string) (*AdminUser, error) {
	admin := &AdminUser{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.exec(ctx, "INSERT INTO admin_users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		admin.ID, admin.Username, admin.PasswordHash, admin.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("admin %q: %w", username, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert admin user: %w", err)
	}
	return admin, nil
}

func (s *SQLStore) GetAdminByUsername(ctx context.Context, username string) (*AdminUser, error) {
	var admin AdminUser
	err := s.queryRow(ctx, "SELECT id, username, password_hash, created_at FROM admin_users WHERE username = ?", username).
		Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &admin.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query admin user: %w", err)
	}
	return &admin, nil
}

func (s *SQLStore) GetAdminByID(ctx context.Context, id string) (*AdminUser, error) {
	var admin AdminUser
	err := s.queryRow(ctx, "SELECT id, username, password_hash, created_at FROM admin_users WHERE id = ?", id).
		Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &admin.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query admin user: %w", err)
	}
	return &admin, nil
}

// Chat methods
func (s *SQLStore) CreateChat(ctx context.Context, owner auth.Identity, title string) (*Chat, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultChatTitle
	}
	chat := &Chat{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UTC()}
	if owner.IsAuthenticated() {
		chat.UserID = &owner.UserID
	} else {
		if owner.Fingerprint == "" {
			return nil, fmt.Errorf("cannot create chat for an empty guest fingerprint")
		}
		chat.GuestID = &owner.Fingerprint
	}

	_, err := s.exec(ctx, "INSERT INTO chats (id, user_id, guest_id, title, created_at) VALUES (?, ?, ?, ?, ?)",
		chat.ID, chat.UserID, chat.GuestID, chat.Title, chat.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return chat, nil
}

func (s *SQLStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	row := s.queryRow(ctx, "SELECT id, user_id, guest_id, title, created_at FROM chats WHERE id = ?", chatID)
	chat, err := scanChat(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return chat, nil
}

// GetChatsByOwner lists an identity's chats, newest first. Guest listings never include chats
// that have been claimed by an account.
func (s *SQLStore) GetChatsByOwner(ctx context.Context, owner auth.Identity) ([]Chat, error) {
	var (
		rows *sql.Rows
		err  error
	)
	const cols = "SELECT id, user_id, guest_id, title, created_at FROM chats "
	if owner.IsAuthenticated() {
		rows, err = s.query(ctx, cols+"WHERE user_id = ? ORDER BY created_at DESC", owner.UserID)
	} else {
		rows, err = s.query(ctx, cols+"WHERE guest_id = ? AND user_id IS NULL ORDER BY created_at DESC", owner.Fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

func (s *SQLStore) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	res, err := s.exec(ctx, "UPDATE chats SET title = ? WHERE id = ?", title, chatID)
	if err != nil {
		return fmt.Errorf("failed to execute chat title update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("chat %s not found, title not updated", chatID)
	}
	return nil
}

func (s *SQLStore) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chat delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM messages WHERE chat_id = ?"), chatID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM chats WHERE id = ?"), chatID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return tx.Commit()
}

// ClaimGuestChats moves every unclaimed chat of a guest fingerprint to userID in one statement.
// Running it again for the same pair is a no-op.
func (s *SQLStore) ClaimGuestChats(ctx context.Context, fingerprint, userID string) (int64, error) {
	if fingerprint == "" || userID == "" {
		return 0, nil
	}
	res, err := s.exec(ctx, "UPDATE chats SET user_id = ?, guest_id = NULL WHERE guest_id = ? AND user_id IS NULL", userID, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("failed to claim guest chats: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var (
		chat    Chat
		userID  sql.NullString
		guestID sql.NullString
	)
	if err := row.Scan(&chat.ID, &userID, &guestID, &chat.Title, &chat.CreatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		chat.UserID = &userID.String
	}
	if guestID.Valid {
		chat.GuestID = &guestID.String
	}
	return &chat, nil
}

// Message methods
func (s *SQLStore) CreateMessage(ctx context.Context, chatID, content string, imageURL *string, isAI bool) (*Message, error) {
	if imageURL != nil && *imageURL == "" {
		imageURL = nil
	}
	msg := &Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Content:   content,
		ImageURL:  imageURL,
		IsAI:      isAI,
		CreatedAt: time.Now().UTC(),
	}
	err := s.queryRow(ctx, "INSERT INTO messages (id, chat_id, content, image_url, is_ai, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING seq",
		msg.ID, msg.ChatID, msg.Content, msg.ImageURL, msg.IsAI, msg.CreatedAt).Scan(&msg.Seq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute message insert: %w", err)
	}
	return msg, nil
}

// GetMessages returns a chat's turns in insertion order. The sequence column, not the timestamp,
// decides the order, so equal or skewed clocks cannot reorder a conversation.
func (s *SQLStore) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.query(ctx, "SELECT seq, id, chat_id, content, image_url, is_ai, created_at FROM messages WHERE chat_id = ? ORDER BY seq ASC", chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			msg      Message
			imageURL sql.NullString
		)
		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.ChatID, &msg.Content, &imageURL, &msg.IsAI, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if imageURL.Valid {
			msg.ImageURL = &imageURL.String
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Custom model config methods
func (s *SQLStore) GetCustomModelConfig(ctx context.Context, modeKey string) (*CustomModelConfig, error) {
	var (
		cfg        CustomModelConfig
		triggers   []byte
		injections []byte
	)
	err := s.queryRow(ctx, "SELECT mode_key, base_prompt, event_triggers, random_injections, updated_at FROM custom_model_configs WHERE mode_key = ?", modeKey).
		Scan(&cfg.ModeKey, &cfg.BasePrompt, &triggers, &injections, &cfg.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query custom model config: %w", err)
	}
	cfg.EventTriggers = json.RawMessage(triggers)
	cfg.RandomInjections = json.RawMessage(injections)
	return &cfg, nil
}

func (s *SQLStore) UpsertCustomModelConfig(ctx context.Context, modeKey, basePrompt string, triggers []EventTrigger, injections []string) (*CustomModelConfig, error) {
	if triggers == nil {
		triggers = []EventTrigger{}
	}
	if injections == nil {
		injections = []string{}
	}
	triggersJSON, err := json.Marshal(triggers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event triggers: %w", err)
	}
	injectionsJSON, err := json.Marshal(injections)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal random injections: %w", err)
	}

	cfg := &CustomModelConfig{
		ModeKey:          modeKey,
		BasePrompt:       basePrompt,
		EventTriggers:    triggersJSON,
		RandomInjections: injectionsJSON,
		UpdatedAt:        time.Now().UTC(),
	}
	_, err = s.exec(ctx, `INSERT INTO custom_model_configs (mode_key, base_prompt, event_triggers, random_injections, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (mode_key) DO UPDATE SET
            base_prompt = excluded.base_prompt,
            event_triggers = excluded.event_triggers,
            random_injections = excluded.random_injections,
            updated_at = excluded.updated_at`,
		cfg.ModeKey, cfg.BasePrompt, string(triggersJSON), string(injectionsJSON), cfg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert custom model config: %w", err)
	}
	return cfg, nil
}
