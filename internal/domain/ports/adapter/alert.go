package adapter

import "context"

// Alerter notifies operators about conditions that need manual remediation.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}
