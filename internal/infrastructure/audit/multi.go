package audit

import (
	"context"
	"fmt"
	"log/slog"

	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/ports"
)

// Multi writes every entry to a primary log and then to best-effort mirrors.
// Only primary failures are returned; mirror failures are logged.
type Multi struct {
	primary ports.AuditLog
	mirrors []ports.AuditLog
	logger  *slog.Logger
}

var _ ports.AuditLog = (*Multi)(nil)

// NewMulti builds a fan-out audit log. Nil mirrors are skipped.
func NewMulti(primary ports.AuditLog, logger *slog.Logger, mirrors ...ports.AuditLog) *Multi {
	m := &Multi{primary: primary, logger: logger}
	for _, mirror := range mirrors {
		if mirror != nil {
			m.mirrors = append(m.mirrors, mirror)
		}
	}
	return m
}

// Append records the entry everywhere.
func (m *Multi) Append(ctx context.Context, e domain.AuditEntry) error {
	var err error
	if m.primary != nil {
		err = m.primary.Append(ctx, e)
	}
	for _, mirror := range m.mirrors {
		if mErr := mirror.Append(ctx, e); mErr != nil && m.logger != nil {
			m.logger.Warn("audit mirror failed", "url", e.URL, "error", mErr)
		}
	}
	if err != nil {
		return fmt.Errorf("primary audit log: %w", err)
	}
	return nil
}
