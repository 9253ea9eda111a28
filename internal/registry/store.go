package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/strangelab/sods-identity-core/internal/infrastructure/database"
)

// Store is the persistence interface for the identity registry.
//
// Implementations must guarantee that a fingerprint value maps to at
// most one device, and that MergeObservation is atomic.
type Store interface {
	CreateDevice(ctx context.Context, dev *Device) error
	GetDevice(ctx context.Context, id string) (*Device, error)
	ListDevices(ctx context.Context, limit, offset int) ([]Device, error)
	FindByFingerprint(ctx context.Context, fp string) (*Device, error)
	FindByFingerprints(ctx context.Context, fps []string) ([]Device, error)
	FindByCompany(ctx context.Context, companyID, limit int) ([]Device, error)
	MergeObservation(ctx context.Context, deviceID string, seenAt time.Time, newFPs []Fingerprint, ev Evidence) error
	SetAlias(ctx context.Context, deviceID, alias, source string) error
	ListAliases(ctx context.Context, deviceID string) ([]Alias, error)
	CountDevices(ctx context.Context) (int64, error)
	Reset(ctx context.Context) error
}

// SQLStore implements Store on the SQLite registry.
type SQLStore struct {
	db *database.DB
}

// NewStore creates a registry store backed by the given database.
func NewStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

// deviceColumns is the column list shared by device queries.
const deviceColumns = "device_id, created_at, last_seen_at, primary_fingerprint, company_id, evidence, sightings"

// CreateDevice inserts a new device and binds its fingerprints in one
// transaction.
//
// Returns ErrInvalidDevice if required fields are missing, ErrWriteFailure
// if the insert does not complete.
func (s *SQLStore) CreateDevice(ctx context.Context, dev *Device) error {
	if dev.ID == "" || dev.PrimaryFingerprint == "" {
		return fmt.Errorf("%w: id and primary fingerprint required", ErrInvalidDevice)
	}

	evidence, err := json.Marshal(dev.Evidence)
	if err != nil {
		return fmt.Errorf("%w: encoding evidence: %v", ErrWriteFailure, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ble_devices (device_id, created_at, last_seen_at, primary_fingerprint, company_id, evidence, sightings)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dev.ID,
		formatTime(dev.CreatedAt),
		formatTime(dev.LastSeenAt),
		dev.PrimaryFingerprint,
		dev.CompanyID,
		string(evidence),
		dev.Sightings,
	); err != nil {
		return fmt.Errorf("%w: inserting device: %v", ErrWriteFailure, err)
	}

	for _, fp := range dev.Fingerprints {
		if err := insertFingerprint(ctx, tx, dev.ID, fp); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return nil
}

// insertFingerprint binds a fingerprint to a device. An existing binding
// wins; fingerprints never move between devices.
func insertFingerprint(ctx context.Context, tx *sql.Tx, deviceID string, fp Fingerprint) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ble_fps (fp, kind, device_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fp) DO NOTHING`,
		fp.Value,
		fp.Kind,
		deviceID,
		formatTime(fp.CreatedAt),
	); err != nil {
		return fmt.Errorf("%w: binding fingerprint: %v", ErrWriteFailure, err)
	}
	return nil
}

// GetDevice retrieves a device with its fingerprints.
//
// Returns ErrDeviceNotFound if no device has the given ID.
func (s *SQLStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM ble_devices WHERE device_id = ?", id)

	dev, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}

	if err := s.loadFingerprints(ctx, dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// ListDevices returns devices ordered by most recent sighting.
func (s *SQLStore) ListDevices(ctx context.Context, limit, offset int) ([]Device, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM ble_devices ORDER BY last_seen_at DESC, device_id LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	return collectDevices(rows)
}

// FindByFingerprint returns the device that owns a fingerprint.
//
// Returns ErrDeviceNotFound if the fingerprint is unbound.
func (s *SQLStore) FindByFingerprint(ctx context.Context, fp string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+` FROM ble_devices
		WHERE device_id = (SELECT device_id FROM ble_fps WHERE fp = ?)`, fp)

	dev, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by fingerprint: %w", err)
	}

	if err := s.loadFingerprints(ctx, dev); err != nil {
		return nil, err
	}
	return dev, nil
}

// FindByFingerprints returns every device owning any of the given
// fingerprints. The result carries loaded fingerprints and is ordered
// by most recent sighting.
func (s *SQLStore) FindByFingerprints(ctx context.Context, fps []string) ([]Device, error) {
	if len(fps) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(fps))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(fps))
	for i, fp := range fps {
		args[i] = fp
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM ble_devices
		WHERE device_id IN (SELECT DISTINCT device_id FROM ble_fps WHERE fp IN (`+placeholders+`))
		ORDER BY last_seen_at DESC, device_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices by fingerprints: %w", err)
	}
	defer rows.Close()

	devices, err := collectDevices(rows)
	if err != nil {
		return nil, err
	}

	for i := range devices {
		if err := s.loadFingerprints(ctx, &devices[i]); err != nil {
			return nil, err
		}
	}
	return devices, nil
}

// FindByCompany returns devices sharing a manufacturer company
// identifier, most recently seen first. Used to scope scoring to
// plausible matches when no fingerprint hits directly.
func (s *SQLStore) FindByCompany(ctx context.Context, companyID, limit int) ([]Device, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM ble_devices WHERE company_id = ? ORDER BY last_seen_at DESC, device_id LIMIT ?",
		companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying devices by company: %w", err)
	}
	defer rows.Close()

	devices, err := collectDevices(rows)
	if err != nil {
		return nil, err
	}

	for i := range devices {
		if err := s.loadFingerprints(ctx, &devices[i]); err != nil {
			return nil, err
		}
	}
	return devices, nil
}

// MergeObservation folds an observation into an existing device in one
// transaction: bumps last_seen and sightings, merges evidence, and binds
// any new fingerprints.
//
// Returns ErrDeviceNotFound if the device does not exist, ErrWriteFailure
// if the transaction does not complete.
func (s *SQLStore) MergeObservation(ctx context.Context, deviceID string, seenAt time.Time, newFPs []Fingerprint, ev Evidence) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var lastSeen, evidenceJSON string
	var companyID int
	err = tx.QueryRowContext(ctx,
		"SELECT last_seen_at, company_id, evidence FROM ble_devices WHERE device_id = ?",
		deviceID).Scan(&lastSeen, &companyID, &evidenceJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: reading device: %v", ErrWriteFailure, err)
	}

	var evidence Evidence
	if err := json.Unmarshal([]byte(evidenceJSON), &evidence); err != nil {
		return fmt.Errorf("%w: decoding evidence: %v", ErrWriteFailure, err)
	}
	evidence.Merge(ev)

	if companyID < 0 && ev.CompanyID >= 0 {
		companyID = ev.CompanyID
	}

	merged, err := json.Marshal(evidence)
	if err != nil {
		return fmt.Errorf("%w: encoding evidence: %v", ErrWriteFailure, err)
	}

	// Out-of-order replays must not move last_seen backwards.
	newLastSeen := formatTime(seenAt)
	if seenAt.UTC().Before(parseTime(lastSeen)) {
		newLastSeen = lastSeen
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ble_devices
		SET last_seen_at = ?, company_id = ?, evidence = ?, sightings = sightings + 1
		WHERE device_id = ?`,
		newLastSeen, companyID, string(merged), deviceID,
	); err != nil {
		return fmt.Errorf("%w: updating device: %v", ErrWriteFailure, err)
	}

	for _, fp := range newFPs {
		if err := insertFingerprint(ctx, tx, deviceID, fp); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return nil
}

// SetAlias creates or replaces a device alias for a source.
//
// Returns ErrInvalidAlias for an empty alias, ErrDeviceNotFound if the
// device does not exist.
func (s *SQLStore) SetAlias(ctx context.Context, deviceID, alias, source string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return ErrInvalidAlias
	}
	if source == "" {
		source = "manual"
	}

	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ble_aliases (device_id, alias, source, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, source) DO UPDATE SET alias = excluded.alias, updated_at = excluded.updated_at`,
		deviceID, alias, source, formatTime(time.Now().UTC()),
	); err != nil {
		return fmt.Errorf("%w: setting alias: %v", ErrWriteFailure, err)
	}
	return nil
}

// ListAliases returns all aliases for a device, ordered by source.
func (s *SQLStore) ListAliases(ctx context.Context, deviceID string) ([]Alias, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT device_id, alias, source, updated_at FROM ble_aliases WHERE device_id = ? ORDER BY source",
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying aliases: %w", err)
	}
	defer rows.Close()

	var aliases []Alias
	for rows.Next() {
		var a Alias
		var updatedAt string
		if err := rows.Scan(&a.DeviceID, &a.Alias, &a.Source, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning alias: %w", err)
		}
		a.UpdatedAt = parseTime(updatedAt)
		aliases = append(aliases, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating aliases: %w", err)
	}
	return aliases, nil
}

// CountDevices returns the number of devices in the registry.
func (s *SQLStore) CountDevices(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ble_devices").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting devices: %w", err)
	}
	return count, nil
}

// Reset removes every device, fingerprint, and alias. Used by the
// rebuild tool before a deterministic replay.
func (s *SQLStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	for _, table := range []string{"ble_aliases", "ble_fps", "ble_devices"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("%w: clearing %s: %v", ErrWriteFailure, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return nil
}

// loadFingerprints attaches a device's fingerprint bindings.
func (s *SQLStore) loadFingerprints(ctx context.Context, dev *Device) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT fp, kind, created_at FROM ble_fps WHERE device_id = ? ORDER BY created_at, fp",
		dev.ID)
	if err != nil {
		return fmt.Errorf("querying fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp Fingerprint
		var createdAt string
		if err := rows.Scan(&fp.Value, &fp.Kind, &createdAt); err != nil {
			return fmt.Errorf("scanning fingerprint: %w", err)
		}
		fp.CreatedAt = parseTime(createdAt)
		dev.Fingerprints = append(dev.Fingerprints, fp)
	}
	return rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for scanDevice.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans one device row.
func scanDevice(row rowScanner) (*Device, error) {
	var dev Device
	var createdAt, lastSeenAt, evidence string
	if err := row.Scan(&dev.ID, &createdAt, &lastSeenAt, &dev.PrimaryFingerprint, &dev.CompanyID, &evidence, &dev.Sightings); err != nil {
		return nil, err
	}
	dev.CreatedAt = parseTime(createdAt)
	dev.LastSeenAt = parseTime(lastSeenAt)
	if err := json.Unmarshal([]byte(evidence), &dev.Evidence); err != nil {
		return nil, fmt.Errorf("decoding evidence: %w", err)
	}
	return &dev, nil
}

// collectDevices scans all rows into a device slice.
func collectDevices(rows *sql.Rows) ([]Device, error) {
	var devices []Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// formatTime renders timestamps in the registry's canonical format.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a registry timestamp. The format is controlled by us,
// so parse failures yield the zero time rather than an error.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // Format is controlled
	return t
}
