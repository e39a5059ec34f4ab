package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/models"
	"github.com/jackc/pgx/v5"
)

const siteColumns = `
	id, name, description, backuppc_url, connection_method, polling_interval,
	backuppc_username, backuppc_password, api_key,
	agent_token, agent_version, agent_hostname, last_agent_contact,
	is_active, created_at, updated_at`

func scanSite(row pgx.Row) (*models.Site, error) {
	var s models.Site
	var method string
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.BackupPCURL, &method, &s.PollingInterval,
		&s.BackupPCUsername, &s.BackupPCPassword, &s.APIKey,
		&s.AgentToken, &s.AgentVersion, &s.AgentHostname, &s.LastAgentContact,
		&s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.ConnectionMethod = models.ConnectionMethod(method)
	return &s, nil
}

// Site methods

// CreateSite inserts a site and fills in its id and timestamps.
// Credentials must already be encrypted.
func (db *DB) CreateSite(ctx context.Context, site *models.Site) error {
	if site.ConnectionMethod == "" {
		site.ConnectionMethod = models.ConnectionSSH
	}
	if site.PollingInterval <= 0 {
		site.PollingInterval = models.DefaultPollingInterval
	}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO sites (name, description, backuppc_url, connection_method, polling_interval,
		                   backuppc_username, backuppc_password, api_key, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, site.Name, site.Description, site.BackupPCURL, string(site.ConnectionMethod), site.PollingInterval,
		site.BackupPCUsername, site.BackupPCPassword, site.APIKey, site.IsActive,
	).Scan(&site.ID, &site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create site: %w", err)
	}
	return nil
}

// GetSiteByID returns a site or ErrNotFound.
func (db *DB) GetSiteByID(ctx context.Context, id int64) (*models.Site, error) {
	site, err := scanSite(db.Pool.QueryRow(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get site: %w", err)
	}
	return site, nil
}

// ListSites returns all sites ordered by name.
func (db *DB) ListSites(ctx context.Context) ([]*models.Site, error) {
	return db.querySites(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY name, id`)
}

func (db *DB) querySites(ctx context.Context, sql string, args ...any) ([]*models.Site, error) {
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []*models.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}

// TouchAgentContact records that the site's agent made contact at the given time.
func (db *DB) TouchAgentContact(ctx context.Context, siteID int64, at time.Time) error {
	return db.execSiteUpdate(ctx, "touch agent contact", `
		UPDATE sites SET last_agent_contact = $2, updated_at = NOW() WHERE id = $1
	`, siteID, at)
}

// RegisterAgent stores the reported agent version and hostname and touches contact.
func (db *DB) RegisterAgent(ctx context.Context, siteID int64, version, hostname string, at time.Time) error {
	return db.execSiteUpdate(ctx, "register agent", `
		UPDATE sites
		SET agent_version = NULLIF($2, ''), agent_hostname = NULLIF($3, ''),
		    last_agent_contact = $4, updated_at = NOW()
		WHERE id = $1
	`, siteID, version, hostname, at)
}

// SetAgentToken replaces the site's agent token and switches it to agent mode.
// The previous token stops authenticating as soon as this commits.
func (db *DB) SetAgentToken(ctx context.Context, siteID int64, token string) error {
	return db.execSiteUpdate(ctx, "set agent token", `
		UPDATE sites
		SET agent_token = $2, connection_method = 'agent', updated_at = NOW()
		WHERE id = $1
	`, siteID, token)
}

func (db *DB) execSiteUpdate(ctx context.Context, op, sql string, args ...any) error {
	tag, err := db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Backup record methods

// ReplaceSiteRecords deletes a site's stored records and inserts records in
// one transaction. The site row is locked first so concurrent replaces for
// the same site apply one after the other.
func (db *DB) ReplaceSiteRecords(ctx context.Context, siteID int64, records []models.BackupRecord) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM sites WHERE id = $1 FOR UPDATE`, siteID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock site: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM backup_data WHERE site_id = $1`, siteID); err != nil {
			return fmt.Errorf("delete backup records: %w", err)
		}

		if len(records) == 0 {
			return nil
		}

		rows := make([][]any, 0, len(records))
		for _, r := range records {
			rows = append(rows, []any{
				siteID, r.HostName, r.State, r.LastBackupTime, r.LastBackupSize,
				r.FullBackupCount, r.IncrementalBackupCount, r.ErrorMessage, r.Disabled, r.RawData,
			})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"backup_data"},
			[]string{
				"site_id", "host_name", "state", "last_backup_time", "last_backup_size",
				"full_backup_count", "incremental_backup_count", "error_message", "disabled", "raw_data",
			},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert backup records: %w", err)
		}
		return nil
	})
}

// ListBackupRecords returns the stored records of a site, hosts first by name.
func (db *DB) ListBackupRecords(ctx context.Context, siteID int64) ([]models.BackupRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, site_id, host_name, state, last_backup_time, last_backup_size,
		       full_backup_count, incremental_backup_count, error_message, disabled,
		       raw_data, created_at
		FROM backup_data
		WHERE site_id = $1
		ORDER BY host_name IN ('server', 'disk_usage', 'cpool'), host_name
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list backup records: %w", err)
	}
	defer rows.Close()

	var records []models.BackupRecord
	for rows.Next() {
		var r models.BackupRecord
		if err := rows.Scan(
			&r.ID, &r.SiteID, &r.HostName, &r.State, &r.LastBackupTime, &r.LastBackupSize,
			&r.FullBackupCount, &r.IncrementalBackupCount, &r.ErrorMessage, &r.Disabled,
			&r.RawData, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan backup record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup records: %w", err)
	}
	return records, nil
}
