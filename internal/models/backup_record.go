package models

import (
	"sort"
	"time"

	pkgmodels "github.com/MacJediWizard/bpcmon/pkg/models"
)

// Pseudo host names used for the non-host sections of a metrics document.
const (
	RecordServer    = "server"
	RecordDiskUsage = "disk_usage"
	RecordCPool     = "cpool"
)

// States stored on pseudo records.
const (
	StateServer = "server"
	StateDisk   = "disk"
	StatePool   = "pool"
)

// BackupRecord is one stored row of a site's latest metrics.
type BackupRecord struct {
	ID                     int64          `json:"id"`
	SiteID                 int64          `json:"site_id"`
	HostName               string         `json:"host_name"`
	State                  string         `json:"state"`
	LastBackupTime         *time.Time     `json:"last_backup_time,omitempty"`
	LastBackupSize         *int64         `json:"last_backup_size,omitempty"`
	FullBackupCount        int            `json:"full_backup_count"`
	IncrementalBackupCount int            `json:"incremental_backup_count"`
	ErrorMessage           *string        `json:"error_message,omitempty"`
	Disabled               bool           `json:"disabled"`
	RawData                map[string]any `json:"raw_data,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
}

// IsPseudo reports whether the record describes the server, disk or pool rather than a host.
func (r *BackupRecord) IsPseudo() bool {
	switch r.HostName {
	case RecordServer, RecordDiskUsage, RecordCPool:
		return true
	}
	return false
}

// RecordsFromDocument flattens a metrics document into the rows that replace a site's records.
// Host rows are ordered by host name. The server row's backup time is now.
func RecordsFromDocument(siteID int64, doc *pkgmodels.MetricsDocument, now time.Time) []BackupRecord {
	if doc == nil {
		return nil
	}
	records := make([]BackupRecord, 0, len(doc.Hosts)+3)

	if doc.Server != nil {
		t := now.UTC()
		records = append(records, BackupRecord{
			SiteID:         siteID,
			HostName:       RecordServer,
			State:          StateServer,
			LastBackupTime: &t,
			RawData:        doc.Server,
		})
	}

	names := make([]string, 0, len(doc.Hosts))
	for name := range doc.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		records = append(records, hostRecord(siteID, name, doc.Hosts[name]))
	}

	if doc.Disk != nil {
		records = append(records, BackupRecord{
			SiteID:   siteID,
			HostName: RecordDiskUsage,
			State:    StateDisk,
			RawData:  doc.Disk,
		})
	}
	if doc.CPool != nil {
		records = append(records, BackupRecord{
			SiteID:   siteID,
			HostName: RecordCPool,
			State:    StatePool,
			RawData:  doc.CPool,
		})
	}
	return records
}

func hostRecord(siteID int64, name string, h pkgmodels.HostMetrics) BackupRecord {
	rec := BackupRecord{
		SiteID:                 siteID,
		HostName:               name,
		State:                  h.StateOrUnknown(),
		FullBackupCount:        h.FullCount,
		IncrementalBackupCount: h.IncrCount,
		Disabled:               h.Disabled,
		RawData:                h.Raw,
	}
	if rec.RawData == nil {
		rec.RawData = map[string]any{}
	}
	if h.FullAge > 0 {
		t := time.Unix(h.FullAge, 0).UTC()
		rec.LastBackupTime = &t
	}
	if _, ok := h.Raw["full_size"]; ok || h.FullSize != 0 {
		size := h.FullSize
		rec.LastBackupSize = &size
	}
	if h.Error != "" {
		msg := h.Error
		rec.ErrorMessage = &msg
	}
	return rec
}
