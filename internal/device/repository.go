package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// Writers are the owning components only: the provisioning workflow creates
// the initial Device row on pairing, the telemetry router and offline sweep
// mutate presence fields. Everything else reads.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, d *Device) error

	// UpdatePresence sets the online flag and last-seen timestamp.
	// Used by the online telemetry handler; a single statement, atomic.
	UpdatePresence(ctx context.Context, id string, online bool, lastSeen time.Time) error

	// UpdateStatus sets the online flag, last-seen timestamp, and optionally
	// the firmware version. Used by the status telemetry handler.
	UpdateStatus(ctx context.Context, id string, online bool, lastSeen time.Time, firmware *string) error

	// MarkOfflineBefore marks every online device whose last_seen is older
	// than cutoff as offline, flips the matching registrations to the
	// offline status, and returns the affected device IDs.
	MarkOfflineBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	// GetRegistrationByDeviceID retrieves a registration by device identifier.
	// Returns ErrRegistrationNotFound if no registration exists.
	GetRegistrationByDeviceID(ctx context.Context, deviceID string) (*Registration, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, is_online, is_active, last_seen, firmware_version,
	config, user_id, device_type, location_id, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := "SELECT " + deviceColumns + " FROM devices WHERE id = ?"

	row := r.db.QueryRowContext(ctx, query, id)
	d, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by identifier.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := "SELECT " + deviceColumns + " FROM devices ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	return createDevice(ctx, r.db, d)
}

// CreateTx inserts a new device inside an existing transaction.
// The provisioning workflow uses this so the registration flip and the
// Device insert commit or roll back together.
func (r *SQLiteRepository) CreateTx(ctx context.Context, tx *sql.Tx, d *Device) error {
	return createDevice(ctx, tx, d)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createDevice(ctx context.Context, ex execer, d *Device) error {
	if d.Config == nil {
		d.Config = Config{}
	}
	configJSON, err := json.Marshal(d.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, is_online, is_active, last_seen, firmware_version,
			config, user_id, device_type, location_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = ex.ExecContext(ctx, query,
		d.ID,
		boolToInt(d.IsOnline),
		boolToInt(d.IsActive),
		nullableTime(d.LastSeen),
		nullableString(d.FirmwareVersion),
		string(configJSON),
		nullableString(d.UserID),
		nullableString(d.DeviceType),
		nullableString(d.LocationID),
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// UpdatePresence sets the online flag and last-seen timestamp.
func (r *SQLiteRepository) UpdatePresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET is_online = ?, last_seen = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(online),
		lastSeen.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device presence: %w", err)
	}

	return requireRowAffected(result)
}

// UpdateStatus sets the online flag, last-seen timestamp, and optionally the
// firmware version reported by a status message.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, online bool, lastSeen time.Time, firmware *string) error {
	now := time.Now().UTC()

	var result sql.Result
	var err error
	if firmware != nil {
		query := `
			UPDATE devices
			SET is_online = ?, last_seen = ?, firmware_version = ?, updated_at = ?
			WHERE id = ?`
		result, err = r.db.ExecContext(ctx, query,
			boolToInt(online),
			lastSeen.UTC().Format(time.RFC3339),
			*firmware,
			now.Format(time.RFC3339),
			id,
		)
	} else {
		query := `
			UPDATE devices
			SET is_online = ?, last_seen = ?, updated_at = ?
			WHERE id = ?`
		result, err = r.db.ExecContext(ctx, query,
			boolToInt(online),
			lastSeen.UTC().Format(time.RFC3339),
			now.Format(time.RFC3339),
			id,
		)
	}
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}

	return requireRowAffected(result)
}

// MarkOfflineBefore marks silent devices offline and returns their IDs.
// The registration status is flipped in the same transaction so the two
// tables never disagree about a device being offline.
func (r *SQLiteRepository) MarkOfflineBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning offline sweep: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	cutoffStr := cutoff.UTC().Format(time.RFC3339)

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM devices
		 WHERE is_online = 1 AND (last_seen IS NULL OR last_seen < ?)`,
		cutoffStr,
	)
	if err != nil {
		return nil, fmt.Errorf("querying silent devices: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning device id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating silent devices: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"UPDATE devices SET is_online = 0, updated_at = ? WHERE id = ?",
			now, id,
		); err != nil {
			return nil, fmt.Errorf("marking device offline: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE registrations SET status = ? WHERE device_id = ? AND status = ?",
			string(StatusOffline), id, string(StatusPaired),
		); err != nil {
			return nil, fmt.Errorf("marking registration offline: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing offline sweep: %w", err)
	}

	return ids, nil
}

const registrationColumns = `id, device_id, mac_address, secret_hash, model,
	manufacturer, firmware_version, status, provisioned, paired, provisioning_token,
	user_id, location_id, batch_id, created_at, provisioned_at, paired_at,
	last_seen_at`

// GetRegistrationByDeviceID retrieves a registration by device identifier.
func (r *SQLiteRepository) GetRegistrationByDeviceID(ctx context.Context, deviceID string) (*Registration, error) {
	query := "SELECT " + registrationColumns + " FROM registrations WHERE device_id = ?"

	row := r.db.QueryRowContext(ctx, query, deviceID)
	reg, err := ScanRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("querying registration by device id: %w", err)
	}
	return reg, nil
}

// RowScanner is an interface that sql.Row and sql.Rows both implement.
type RowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner RowScanner) (*Device, error) {
	var d Device
	var isOnline, isActive int
	var lastSeen, firmwareVersion, userID, deviceType, locationID sql.NullString
	var configJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&isOnline,
		&isActive,
		&lastSeen,
		&firmwareVersion,
		&configJSON,
		&userID,
		&deviceType,
		&locationID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.IsOnline = isOnline != 0
	d.IsActive = isActive != 0

	if firmwareVersion.Valid {
		d.FirmwareVersion = &firmwareVersion.String
	}
	if userID.Valid {
		d.UserID = &userID.String
	}
	if deviceType.Valid {
		d.DeviceType = &deviceType.String
	}
	if locationID.Valid {
		d.LocationID = &locationID.String
	}

	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err == nil {
			d.LastSeen = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(configJSON), &d.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &d, nil
}

// ScanRegistration scans a row or rows result into a Registration.
// Exported so the provisioning repository can share the column mapping.
func ScanRegistration(scanner RowScanner) (*Registration, error) {
	var reg Registration
	var provisioned, paired int
	var token, userID, locationID, batchID sql.NullString
	var status, createdAt string
	var provisionedAt, pairedAt, lastSeenAt sql.NullString

	err := scanner.Scan(
		&reg.ID,
		&reg.DeviceID,
		&reg.MACAddress,
		&reg.SecretHash,
		&reg.Model,
		&reg.Manufacturer,
		&reg.FirmwareVersion,
		&status,
		&provisioned,
		&paired,
		&token,
		&userID,
		&locationID,
		&batchID,
		&createdAt,
		&provisionedAt,
		&pairedAt,
		&lastSeenAt,
	)
	if err != nil {
		return nil, err
	}

	reg.Status = RegistrationStatus(status)
	reg.Provisioned = provisioned != 0
	reg.Paired = paired != 0

	if token.Valid {
		reg.ProvisioningToken = &token.String
	}
	if userID.Valid {
		reg.UserID = &userID.String
	}
	if locationID.Valid {
		reg.LocationID = &locationID.String
	}
	if batchID.Valid {
		reg.BatchID = &batchID.String
	}

	var parseErr error
	reg.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	reg.ProvisionedAt = parseNullableTime(provisionedAt)
	reg.PairedAt = parseNullableTime(pairedAt)
	reg.LastSeenAt = parseNullableTime(lastSeenAt)

	return &reg, nil
}

// requireRowAffected returns ErrDeviceNotFound when an UPDATE matched nothing.
func requireRowAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func parseNullableTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
