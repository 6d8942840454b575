package provisioning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ironvale/fleetcore/internal/device"
)

// Repository defines persistence for registrations and batches.
// The provisioning workflow is the only writer; the identity store reads
// registrations through its own repository.
type Repository interface {
	// CreateRegistration inserts a new registration.
	// Returns ErrDuplicateDevice if the MAC address or device identifier
	// already exists.
	CreateRegistration(ctx context.Context, reg *device.Registration) error

	// GetByID retrieves a registration by its row identifier.
	GetByID(ctx context.Context, id string) (*device.Registration, error)

	// GetByDeviceID retrieves a registration by device identifier.
	GetByDeviceID(ctx context.Context, deviceID string) (*device.Registration, error)

	// MarkProvisioned flips a registration to provisioned and attaches the
	// one-time token. Returns ErrAlreadyProvisioned if it already was.
	MarkProvisioned(ctx context.Context, registrationID, token string, at time.Time) error

	// CompletePairing atomically flips the registration to paired, consumes
	// the provisioning token, and creates the Device row. At most one
	// concurrent call for the same registration can succeed; the loser gets
	// ErrAlreadyPaired.
	CompletePairing(ctx context.Context, deviceID, userID string, at time.Time) (*device.Device, error)

	// CreateBatch inserts the batch row and its member registrations in one
	// transaction. memberErrs is index-aligned with regs; a nil entry means
	// the member was created.
	CreateBatch(ctx context.Context, batch *Batch, regs []*device.Registration) (memberErrs []error, err error)

	// IncrementProvisioned bumps a batch's provisioned_devices counter.
	// The counter never exceeds total_devices.
	IncrementProvisioned(ctx context.Context, batchID string) error

	// GetBatch retrieves a batch by identifier.
	GetBatch(ctx context.Context, id string) (*Batch, error)

	// ListBatches retrieves all batches, newest first.
	ListBatches(ctx context.Context) ([]Batch, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db      *sql.DB
	devices *device.SQLiteRepository
}

// NewSQLiteRepository creates a new SQLite-backed provisioning repository.
// The device repository is used to create the Device row inside the pairing
// transaction.
func NewSQLiteRepository(db *sql.DB, devices *device.SQLiteRepository) *SQLiteRepository {
	return &SQLiteRepository{db: db, devices: devices}
}

const registrationColumns = `id, device_id, mac_address, secret_hash, model,
	manufacturer, firmware_version, status, provisioned, paired, provisioning_token,
	user_id, location_id, batch_id, created_at, provisioned_at, paired_at,
	last_seen_at`

// CreateRegistration inserts a new registration.
func (r *SQLiteRepository) CreateRegistration(ctx context.Context, reg *device.Registration) error {
	return insertRegistration(ctx, r.db, reg)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRegistration(ctx context.Context, ex execer, reg *device.Registration) error {
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO registrations (
			id, device_id, mac_address, secret_hash, model, manufacturer,
			firmware_version, status, provisioned, paired, provisioning_token,
			user_id, location_id, batch_id, created_at, provisioned_at,
			paired_at, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := ex.ExecContext(ctx, query,
		reg.ID,
		reg.DeviceID,
		reg.MACAddress,
		reg.SecretHash,
		reg.Model,
		reg.Manufacturer,
		reg.FirmwareVersion,
		string(reg.Status),
		boolToInt(reg.Provisioned),
		boolToInt(reg.Paired),
		nullableString(reg.ProvisioningToken),
		nullableString(reg.UserID),
		nullableString(reg.LocationID),
		nullableString(reg.BatchID),
		reg.CreatedAt.Format(time.RFC3339),
		nullableTime(reg.ProvisionedAt),
		nullableTime(reg.PairedAt),
		nullableTime(reg.LastSeenAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateDevice
		}
		return fmt.Errorf("inserting registration: %w", err)
	}

	return nil
}

// GetByID retrieves a registration by its row identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*device.Registration, error) {
	query := "SELECT " + registrationColumns + " FROM registrations WHERE id = ?"

	row := r.db.QueryRowContext(ctx, query, id)
	reg, err := device.ScanRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, device.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("querying registration by id: %w", err)
	}
	return reg, nil
}

// GetByDeviceID retrieves a registration by device identifier.
func (r *SQLiteRepository) GetByDeviceID(ctx context.Context, deviceID string) (*device.Registration, error) {
	query := "SELECT " + registrationColumns + " FROM registrations WHERE device_id = ?"

	row := r.db.QueryRowContext(ctx, query, deviceID)
	reg, err := device.ScanRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, device.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("querying registration by device id: %w", err)
	}
	return reg, nil
}

// MarkProvisioned flips a registration to provisioned and attaches the token.
// The conditional UPDATE makes the flip race-free: a registration that was
// provisioned between read and write matches zero rows.
func (r *SQLiteRepository) MarkProvisioned(ctx context.Context, registrationID, token string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE registrations
		 SET status = ?, provisioned = 1, provisioning_token = ?, provisioned_at = ?
		 WHERE id = ? AND provisioned = 0`,
		string(device.StatusProvisioned),
		token,
		at.UTC().Format(time.RFC3339),
		registrationID,
	)
	if err != nil {
		return fmt.Errorf("marking registration provisioned: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyProvisioned
	}

	return nil
}

// CompletePairing atomically pairs the registration and creates the Device.
// The database pool holds a single connection, so the transaction is fully
// serialised against any concurrent pairing attempt; the conditional UPDATE
// on paired = 0 lets exactly one attempt through.
func (r *SQLiteRepository) CompletePairing(ctx context.Context, deviceID, userID string, at time.Time) (*device.Device, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning pairing: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	result, err := tx.ExecContext(ctx,
		`UPDATE registrations
		 SET status = ?, paired = 1, provisioning_token = NULL, user_id = ?, paired_at = ?
		 WHERE device_id = ? AND paired = 0`,
		string(device.StatusPaired),
		userID,
		at.UTC().Format(time.RFC3339),
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("pairing registration: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrAlreadyPaired
	}

	row := tx.QueryRowContext(ctx,
		"SELECT "+registrationColumns+" FROM registrations WHERE device_id = ?",
		deviceID,
	)
	reg, err := device.ScanRegistration(row)
	if err != nil {
		return nil, fmt.Errorf("reading paired registration: %w", err)
	}

	model := reg.Model
	d := &device.Device{
		ID:         deviceID,
		IsActive:   true,
		Config:     device.Config{},
		UserID:     &userID,
		DeviceType: &model,
		LocationID: reg.LocationID,
	}
	if reg.FirmwareVersion != "" {
		fw := reg.FirmwareVersion
		d.FirmwareVersion = &fw
	}

	if err := r.devices.CreateTx(ctx, tx, d); err != nil {
		return nil, fmt.Errorf("creating device record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing pairing: %w", err)
	}

	return d, nil
}

// CreateBatch inserts the batch row and its member registrations in one
// transaction. A failed member INSERT does not abort the transaction; its
// error is recorded and the remaining members proceed. The batch row is
// updated with the final counts before commit.
func (r *SQLiteRepository) CreateBatch(ctx context.Context, batch *Batch, regs []*device.Registration) ([]error, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning batch creation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO provisioning_batches (
			id, model, firmware_version, total_devices, provisioned_devices,
			status, created_by, installer_id, created_at, updated_at
		) VALUES (?, ?, ?, 0, 0, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.Model,
		batch.FirmwareVersion,
		string(BatchPending),
		batch.CreatedBy,
		nullableString(batch.InstallerID),
		batch.CreatedAt.Format(time.RFC3339),
		batch.UpdatedAt.Format(time.RFC3339),
	); err != nil {
		return nil, fmt.Errorf("inserting batch: %w", err)
	}

	memberErrs := make([]error, len(regs))
	created := 0
	for i, reg := range regs {
		if err := insertRegistration(ctx, tx, reg); err != nil {
			memberErrs[i] = err
			continue
		}
		created++
	}

	status := BatchPending
	if created == 0 {
		status = BatchFailed
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE provisioning_batches
		 SET total_devices = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		created,
		string(status),
		time.Now().UTC().Format(time.RFC3339),
		batch.ID,
	); err != nil {
		return nil, fmt.Errorf("finalising batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing batch creation: %w", err)
	}

	batch.TotalDevices = created
	batch.Status = status

	return memberErrs, nil
}

// IncrementProvisioned bumps a batch's provisioned_devices counter and
// advances status: processing while members are still waiting for tokens,
// completed once every member has one.
func (r *SQLiteRepository) IncrementProvisioned(ctx context.Context, batchID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE provisioning_batches
		 SET provisioned_devices = provisioned_devices + 1,
		     status = CASE WHEN provisioned_devices + 1 >= total_devices
		              THEN 'completed' ELSE 'processing' END,
		     updated_at = ?
		 WHERE id = ? AND provisioned_devices < total_devices`,
		time.Now().UTC().Format(time.RFC3339),
		batchID,
	)
	if err != nil {
		return fmt.Errorf("incrementing provisioned count: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// The guarded UPDATE matches nothing for a missing batch and for
		// one already at its member count; tell the two apart.
		var exists int
		err := r.db.QueryRowContext(ctx,
			"SELECT 1 FROM provisioning_batches WHERE id = ?", batchID,
		).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrBatchNotFound
		case err != nil:
			return fmt.Errorf("checking batch existence: %w", err)
		}
		return ErrBatchCompleted
	}

	return nil
}

const batchColumns = `id, model, firmware_version, total_devices,
	provisioned_devices, status, created_by, installer_id, created_at,
	updated_at`

// GetBatch retrieves a batch by identifier.
func (r *SQLiteRepository) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+batchColumns+" FROM provisioning_batches WHERE id = ?", id)

	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("querying batch: %w", err)
	}
	return batch, nil
}

// ListBatches retrieves all batches, newest first.
func (r *SQLiteRepository) ListBatches(ctx context.Context) ([]Batch, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+batchColumns+" FROM provisioning_batches ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		batches = append(batches, *batch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating batches: %w", err)
	}

	return batches, nil
}

// scanBatch scans a row or rows result into a Batch.
func scanBatch(scanner device.RowScanner) (*Batch, error) {
	var b Batch
	var status, createdAt, updatedAt string
	var installerID sql.NullString

	if err := scanner.Scan(
		&b.ID,
		&b.Model,
		&b.FirmwareVersion,
		&b.TotalDevices,
		&b.ProvisionedDevices,
		&status,
		&b.CreatedBy,
		&installerID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	b.Status = BatchStatus(status)
	if installerID.Valid {
		b.InstallerID = &installerID.String
	}

	var parseErr error
	b.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	b.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &b, nil
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
