package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"

	"apptdesk/pkg/metrics"
	"apptdesk/pkg/models"
)

//go:embed migrations
var migrations embed.FS

const retries = 3

// Lock key for the bulk table replace. Two concurrent replaces against the
// same database serialize on this advisory lock.
const replaceLockKey = 824031

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment not found")
	ErrProviderNotFound    = fmt.Errorf("provider not found")
	ErrSessionNotFound     = fmt.Errorf("session not found")
	ErrUserNotFound        = fmt.Errorf("user not found")
)

type Store struct {
	log *logrus.Entry
	db  *sqlx.DB
}

func NewStore(ctx context.Context, log *logrus.Logger, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{
		log: log.WithField("component", "pgstore"),
		db:  db,
	}, nil
}

func (s *Store) Migrate(direction migrate.MigrationDirection) error {
	assetDir := func() func(string) ([]string, error) {
		return func(path string) ([]string, error) {
			dirEntry, er := migrations.ReadDir(path)
			if er != nil {
				return nil, er
			}
			entries := make([]string, 0)
			for _, e := range dirEntry {
				entries = append(entries, e.Name())
			}

			return entries, nil
		}
	}()
	asset := migrate.AssetMigrationSource{
		Asset:    migrations.ReadFile,
		AssetDir: assetDir,
		Dir:      "migrations",
	}
	_, err := migrate.Exec(s.db.DB, "postgres", asset, direction)
	return err
}

const appointmentInsertColumns = `set_by, provider, marketing_channel, call_type, start_date, start_time,
client_name, client_phone, client_email, uses_email,
street, line2, city, state, zip,
end_date, end_time, duration, notes,
updated_start_date, updated_start_time, updated_end_date, updated_end_time,
canceled_by, cancel_details,
gross_revenue, travel_expense, hosting_expense,
total_collected_cash, total_collected_digital, in_out_goes_to,
total_expenses, due_to_provider, total_collected,
disposition_status, calendar_event_id`

const appointmentInsertValues = `:set_by, :provider, :marketing_channel, :call_type, :start_date, :start_time,
:client_name, :client_phone, :client_email, :uses_email,
:street, :line2, :city, :state, :zip,
:end_date, :end_time, :duration, :notes,
:updated_start_date, :updated_start_time, :updated_end_date, :updated_end_time,
:canceled_by, :cancel_details,
:gross_revenue, :travel_expense, :hosting_expense,
:total_collected_cash, :total_collected_digital, :in_out_goes_to,
:total_expenses, :due_to_provider, :total_collected,
:disposition_status, :calendar_event_id`

func (s *Store) CreateAppointment(ctx context.Context, appt models.Appointment) (models.Appointment, error) {
	query := `
INSERT INTO appointments (` + appointmentInsertColumns + `)
VALUES (` + appointmentInsertValues + `)
RETURNING *;`
	var created models.Appointment
	var err error
	for i := 0; i < retries; i++ {
		if err = s.namedGet(ctx, &created, query, appt); err != nil {
			metrics.PgErrCount.WithLabelValues("CreateAppointment").Inc()
			continue
		}
		return created, nil
	}
	return models.Appointment{}, fmt.Errorf("err creating appointment: %w", err)
}

func (s *Store) GetAppointments(ctx context.Context) ([]models.Appointment, error) {
	var appts []models.Appointment
	var err error
	for i := 0; i < retries; i++ {
		if err = s.db.SelectContext(ctx, &appts, `SELECT * FROM appointments ORDER BY id`); err != nil {
			metrics.PgErrCount.WithLabelValues("GetAppointments").Inc()
			continue
		}
		return appts, nil
	}
	return nil, fmt.Errorf("err getting appointments: %w", err)
}

func (s *Store) GetAppointment(ctx context.Context, id int) (models.Appointment, error) {
	var appt models.Appointment
	query := `
SELECT * FROM appointments
WHERE id = $1;`
	var err error
	for i := 0; i < retries; i++ {
		err = s.db.GetContext(ctx, &appt, query, id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return models.Appointment{}, ErrAppointmentNotFound
		case err != nil:
			metrics.PgErrCount.WithLabelValues("GetAppointment").Inc()
			continue
		}
		return appt, nil
	}
	return models.Appointment{}, fmt.Errorf("err getting appointment %d: %w", id, err)
}

// UpdateAppointment rewrites every mutable column of the row, derived
// financial fields included. Callers recompute those before saving.
func (s *Store) UpdateAppointment(ctx context.Context, id int, appt models.Appointment) (models.Appointment, error) {
	appt.ID = id
	query := `
UPDATE appointments
SET set_by                  = :set_by,
    provider                = :provider,
    marketing_channel       = :marketing_channel,
    call_type               = :call_type,
    start_date              = :start_date,
    start_time              = :start_time,
    client_name             = :client_name,
    client_phone            = :client_phone,
    client_email            = :client_email,
    uses_email              = :uses_email,
    street                  = :street,
    line2                   = :line2,
    city                    = :city,
    state                   = :state,
    zip                     = :zip,
    end_date                = :end_date,
    end_time                = :end_time,
    duration                = :duration,
    notes                   = :notes,
    updated_start_date      = :updated_start_date,
    updated_start_time      = :updated_start_time,
    updated_end_date        = :updated_end_date,
    updated_end_time        = :updated_end_time,
    canceled_by             = :canceled_by,
    cancel_details          = :cancel_details,
    gross_revenue           = :gross_revenue,
    travel_expense          = :travel_expense,
    hosting_expense         = :hosting_expense,
    total_collected_cash    = :total_collected_cash,
    total_collected_digital = :total_collected_digital,
    in_out_goes_to          = :in_out_goes_to,
    total_expenses          = :total_expenses,
    due_to_provider         = :due_to_provider,
    total_collected         = :total_collected,
    disposition_status      = :disposition_status,
    calendar_event_id       = :calendar_event_id,
    updated_at              = now()
WHERE id = :id
RETURNING *;`
	var updated models.Appointment
	var err error
	for i := 0; i < retries; i++ {
		err = s.namedGet(ctx, &updated, query, appt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return models.Appointment{}, ErrAppointmentNotFound
		case err != nil:
			metrics.PgErrCount.WithLabelValues("UpdateAppointment").Inc()
			continue
		}
		return updated, nil
	}
	return models.Appointment{}, fmt.Errorf("err updating appointment %d: %w", id, err)
}

func (s *Store) DeleteAppointment(ctx context.Context, id int) (models.Appointment, error) {
	var deleted models.Appointment
	query := `
DELETE FROM appointments
WHERE id = $1
RETURNING *;`
	var err error
	for i := 0; i < retries; i++ {
		err = s.db.GetContext(ctx, &deleted, query, id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return models.Appointment{}, ErrAppointmentNotFound
		case err != nil:
			metrics.PgErrCount.WithLabelValues("DeleteAppointment").Inc()
			continue
		}
		return deleted, nil
	}
	return models.Appointment{}, fmt.Errorf("err deleting appointment %d: %w", id, err)
}

func (s *Store) GetProviders(ctx context.Context) ([]models.Provider, error) {
	var providers []models.Provider
	var err error
	for i := 0; i < retries; i++ {
		if err = s.db.SelectContext(ctx, &providers, `SELECT * FROM providers ORDER BY last_name, first_name`); err != nil {
			metrics.PgErrCount.WithLabelValues("GetProviders").Inc()
			continue
		}
		return providers, nil
	}
	return nil, fmt.Errorf("err getting providers: %w", err)
}

func (s *Store) GetProvider(ctx context.Context, id int) (models.Provider, error) {
	var provider models.Provider
	query := `
SELECT * FROM providers
WHERE id = $1;`
	var err error
	for i := 0; i < retries; i++ {
		err = s.db.GetContext(ctx, &provider, query, id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return models.Provider{}, ErrProviderNotFound
		case err != nil:
			metrics.PgErrCount.WithLabelValues("GetProvider").Inc()
			continue
		}
		return provider, nil
	}
	return models.Provider{}, fmt.Errorf("err getting provider %d: %w", id, err)
}

// UpsertProviders writes validated staff rows in one transaction, keyed on
// first+last name.
func (s *Store) UpsertProviders(ctx context.Context, providers []models.Provider) error {
	query := `
INSERT INTO providers (first_name, last_name, email, phone, job_title, department,
                       employment_type, status, start_date, end_date, photo_url, active)
VALUES (:first_name, :last_name, :email, :phone, :job_title, :department,
        :employment_type, :status, :start_date, :end_date, :photo_url, :active)
ON CONFLICT (first_name, last_name) DO UPDATE
    SET email           = EXCLUDED.email,
        phone           = EXCLUDED.phone,
        job_title       = EXCLUDED.job_title,
        department      = EXCLUDED.department,
        employment_type = EXCLUDED.employment_type,
        status          = EXCLUDED.status,
        start_date      = EXCLUDED.start_date,
        end_date        = EXCLUDED.end_date,
        photo_url       = EXCLUDED.photo_url,
        active          = EXCLUDED.active,
        updated_at      = now();`
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("err starting tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, p := range providers {
		if _, err = tx.NamedExecContext(ctx, query, p); err != nil {
			return fmt.Errorf("err upserting provider %s %s: %w", p.FirstName, p.LastName, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("err committing providers: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (models.Session, error) {
	var session models.Session
	err := s.db.GetContext(ctx, &session, `SELECT * FROM sessions WHERE id = $1`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Session{}, ErrSessionNotFound
	case err != nil:
		return models.Session{}, fmt.Errorf("err getting session: %w", err)
	}
	return session, nil
}

func (s *Store) GetUser(ctx context.Context, id int) (models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.User{}, ErrUserNotFound
	case err != nil:
		return models.User{}, fmt.Errorf("err getting user %d: %w", id, err)
	}
	return user, nil
}

// BackupAppointments snapshots the appointments table into a timestamped
// relation and returns its name.
func (s *Store) BackupAppointments(ctx context.Context) (string, error) {
	table := backupTableName(time.Now())
	if _, err := s.db.ExecContext(ctx, backupQuery(table)); err != nil {
		metrics.PgErrCount.WithLabelValues("BackupAppointments").Inc()
		return "", fmt.Errorf("err backing up appointments: %w", err)
	}
	return table, nil
}

func backupTableName(now time.Time) string {
	ts := now.UTC().Format(time.RFC3339)
	return "appointments_backup_" + strings.NewReplacer(":", "-", ".", "-", "+", "-").Replace(ts)
}

// The name carries dashes, so it must go in as a quoted identifier.
func backupQuery(table string) string {
	return fmt.Sprintf(`CREATE TABLE %q AS SELECT * FROM appointments`, table)
}

// ReplaceAppointments swaps the full table contents in one transaction. An
// advisory lock serializes concurrent replaces. Each insert runs inside a
// savepoint so a bad record is skipped and reported without aborting the
// rest; the delete plus all surviving inserts commit or roll back together.
func (s *Store) ReplaceAppointments(ctx context.Context, appts []models.Appointment) (int, []models.RecordError, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("err starting replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, replaceLockKey); err != nil {
		return 0, nil, fmt.Errorf("err acquiring replace lock: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM appointments`); err != nil {
		return 0, nil, fmt.Errorf("err clearing appointments: %w", err)
	}

	insert := `
INSERT INTO appointments (` + appointmentInsertColumns + `)
VALUES (` + appointmentInsertValues + `);`
	imported := 0
	var recordErrs []models.RecordError
	for i, appt := range appts {
		if _, err = tx.ExecContext(ctx, `SAVEPOINT record_insert`); err != nil {
			return 0, nil, fmt.Errorf("err creating savepoint: %w", err)
		}
		if _, err = tx.NamedExecContext(ctx, insert, appt); err != nil {
			s.log.Warnf("skipping record %d: %v", i+1, err)
			recordErrs = append(recordErrs, models.RecordError{Index: i + 1, Message: err.Error()})
			if _, err = tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT record_insert`); err != nil {
				return 0, nil, fmt.Errorf("err rolling back record %d: %w", i+1, err)
			}
			continue
		}
		imported++
	}
	if err = tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("err committing replace: %w", err)
	}
	return imported, recordErrs, nil
}

func (s *Store) ResetTables(ctx context.Context, tables []string) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE TABLE `+strings.Join(tables, `, `))
	for _, table := range tables {
		_, err = s.db.ExecContext(ctx, fmt.Sprintf(`ALTER SEQUENCE %s_id_seq RESTART`, table))
		if err != nil {
			return err
		}
	}
	return err
}

func (s *Store) namedGet(ctx context.Context, dest interface{}, query string, arg interface{}) error {
	rows, err := s.db.NamedQueryContext(ctx, query, arg)
	if err != nil {
		return err
	}
	defer func() {
		if err = rows.Close(); err != nil {
			s.log.Warnf("err during closing rows: %v", err)
		}
	}()
	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	return rows.StructScan(dest)
}
