// Package artifacts renders the onboarding outputs handed to a developer
// once their account is provisioned: a remote-state backend descriptor and
// a getting-started guide.
package artifacts

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"devaccounts/internal/domain"
)

// backendTemplate is the remote-state backend descriptor. It references only
// resources the provisioning pipeline has already verified.
const backendTemplate = `terraform {
  backend "s3" {
    bucket         = "{{ .StateBucket }}"
    key            = "dev/{{ .DeveloperName }}/terraform.tfstate"
    region         = "{{ .Region }}"
    dynamodb_table = "{{ .LockTable }}"
    encrypt        = true
  }
}
`

const guideTemplate = `# Developer Sandbox: {{ .DisplayName }}

Generated {{ .GeneratedAt.Format "2006-01-02" }} for {{ .DeveloperName }} <{{ .Email }}>.

## Account

- Account ID: {{ .AccountID }}
- Regions: {{ range $i, $r := .Regions }}{{ if $i }}, {{ end }}{{ $r }}{{ end }}
- Monthly budget: ${{ .MonthlyBudget }} (alerts at 80% actual and 90% forecast)

## Access

Assume the sandbox role from your workstation:

    aws sts assume-role \
      --role-arn {{ .RoleARN }} \
      --role-session-name {{ .DeveloperName }}-sandbox

All API calls in this account are constrained by the permission boundary
{{ .BoundaryARN }}. Actions outside the allowed regions and a small set of
global services are denied, as is tampering with the boundary itself.

## Remote state

The backend descriptor next to this guide points Terraform at the
pre-provisioned state bucket ({{ .StateBucket }}) and lock table
({{ .LockTable }}). Copy backend.tf into your project root and run
terraform init.

## Limits

- Instance types are restricted to the approved burstable classes.
- Budget alerts go to {{ .Email }}; overspend may lead to offboarding.
{{- if .TicketID }}
- Provisioning ticket: {{ .TicketID }}
{{- end }}
`

// Renderer writes onboarding artifacts under a base directory, one
// subdirectory per developer.
type Renderer struct {
	baseDir string
	backend *template.Template
	guide   *template.Template
	now     func() time.Time
}

// NewRenderer parses the built-in templates and returns a renderer rooted at
// baseDir.
func NewRenderer(baseDir string) (*Renderer, error) {
	backend, err := template.New("backend").Parse(backendTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse backend template: %w", err)
	}
	guide, err := template.New("guide").Parse(guideTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse guide template: %w", err)
	}
	return &Renderer{baseDir: baseDir, backend: backend, guide: guide, now: time.Now}, nil
}

// templateData is the merged view both templates render from.
type templateData struct {
	DeveloperName string
	DisplayName   string
	Email         string
	AccountID     string
	Regions       []string
	Region        string
	MonthlyBudget int
	TicketID      string
	StateBucket   string
	LockTable     string
	BoundaryARN   string
	RoleARN       string
	GeneratedAt   time.Time
}

// Render writes backend.tf and ONBOARDING.md for the account and returns the
// artifact record. Re-rendering overwrites previous output, so the operation
// is idempotent.
func (r *Renderer) Render(acct *domain.ManagedAccount) (domain.OnboardingArtifact, error) {
	var artifact domain.OnboardingArtifact
	if len(acct.Regions) == 0 {
		return artifact, fmt.Errorf("account %s has no regions", acct.DeveloperName)
	}

	data := templateData{
		DeveloperName: acct.DeveloperName,
		DisplayName:   acct.DisplayName,
		Email:         acct.Email,
		AccountID:     acct.AccountID,
		Regions:       acct.Regions,
		Region:        acct.Regions[0],
		MonthlyBudget: acct.MonthlyBudget,
		TicketID:      acct.TicketID,
		StateBucket:   acct.StateBucket,
		LockTable:     acct.LockTable,
		BoundaryARN:   acct.BoundaryARN,
		RoleARN:       acct.RoleARN,
		GeneratedAt:   r.now().UTC(),
	}

	dir := filepath.Join(r.baseDir, acct.DeveloperName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return artifact, fmt.Errorf("create artifact dir: %w", err)
	}

	backendPath := filepath.Join(dir, "backend.tf")
	if err := renderTo(r.backend, backendPath, data); err != nil {
		return artifact, err
	}

	guidePath := filepath.Join(dir, "ONBOARDING.md")
	if err := renderTo(r.guide, guidePath, data); err != nil {
		return artifact, err
	}

	return domain.OnboardingArtifact{
		DeveloperName: acct.DeveloperName,
		CreatedAt:     data.GeneratedAt,
		BackendPath:   backendPath,
		GuidePath:     guidePath,
	}, nil
}

func renderTo(tmpl *template.Template, path string, data templateData) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
