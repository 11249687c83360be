package offboard

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"devaccounts/internal/domain"
)

// archiveMetadata is the bundle manifest written alongside the backed-up
// state and cost report.
type archiveMetadata struct {
	Archive  domain.OffboardingArchive `yaml:"archive"`
	Account  domain.ManagedAccount     `yaml:"account"`
	Report   CostReport                `yaml:"cost_report"`
	Warnings []string                  `yaml:"warnings,omitempty"`
}

// WriteArchive finalizes the archive bundle: it writes metadata.yaml into dir
// and returns the archive record with the retention deadline set.
func WriteArchive(dir string, acct domain.ManagedAccount, report CostReport, warnings []string, now time.Time) (domain.OffboardingArchive, error) {
	now = now.UTC()
	archive := domain.OffboardingArchive{
		ArchiveID:     uuid.NewString(),
		DeveloperName: acct.DeveloperName,
		AccountID:     acct.AccountID,
		ArchivedAt:    now,
		Dir:           dir,
		RetainUntil:   now.Add(domain.ArchiveRetention),
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return archive, fmt.Errorf("create archive dir: %w", err)
	}

	meta := archiveMetadata{Archive: archive, Account: acct, Report: report, Warnings: warnings}
	if err := writeYAML(filepath.Join(dir, "metadata.yaml"), meta); err != nil {
		return archive, err
	}
	return archive, nil
}

// ReadArchive loads a bundle's metadata; used by the purge check and the
// status command.
func ReadArchive(dir string) (domain.OffboardingArchive, domain.ManagedAccount, error) {
	data, err := os.ReadFile(filepath.Join(dir, "metadata.yaml"))
	if err != nil {
		return domain.OffboardingArchive{}, domain.ManagedAccount{}, fmt.Errorf("read archive metadata: %w", err)
	}
	var meta archiveMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return domain.OffboardingArchive{}, domain.ManagedAccount{}, fmt.Errorf("parse archive metadata: %w", err)
	}
	return meta.Archive, meta.Account, nil
}

// WriteCostReport persists the spend summary into the bundle directory so a
// resumed run does not need to query billing again.
func WriteCostReport(dir string, report CostReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	return writeYAML(filepath.Join(dir, "cost-report.yaml"), report)
}

// ReadCostReport loads a previously written spend summary.
func ReadCostReport(dir string) (CostReport, error) {
	data, err := os.ReadFile(filepath.Join(dir, "cost-report.yaml"))
	if err != nil {
		return CostReport{}, fmt.Errorf("read cost report: %w", err)
	}
	var report CostReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return CostReport{}, fmt.Errorf("parse cost report: %w", err)
	}
	return report, nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
