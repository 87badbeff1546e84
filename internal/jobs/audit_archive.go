package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const archiveBatchSize = 1000

func (s *Scheduler) runAuditArchive() {
	if s.archive == nil {
		return
	}
	s.withLease("audit_archive", 10*time.Minute, func(ctx context.Context) {
		if err := s.archiveAudit(ctx); err != nil {
			s.log.Error().Err(err).Msg("audit archive failed")
		}
	})
}

// archiveAudit exports audit rows past the retention window to object
// storage as JSON lines, then prunes them. Rows are deleted only up to
// the last successfully exported batch, so a failure mid-run never
// loses an entry.
func (s *Scheduler) archiveAudit(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.Archive.Retention)

	for batch := 0; ; batch++ {
		entries, err := s.store.Audit.ListOlderThan(ctx, cutoff, archiveBatchSize)
		if err != nil {
			return fmt.Errorf("list audit batch: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		var buf []byte
		for _, e := range entries {
			line, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal audit entry %s: %w", e.ID, err)
			}
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}

		last := entries[len(entries)-1]
		key := fmt.Sprintf("audit/%s/%s-%d.ndjson",
			last.CreatedAt.UTC().Format("2006/01"),
			last.CreatedAt.UTC().Format("20060102T150405Z"),
			batch)

		if err := s.archive.PutBatch(ctx, key, buf); err != nil {
			return err
		}

		pruned, err := s.store.Audit.DeleteArchivedBefore(ctx, last.CreatedAt.Add(time.Nanosecond))
		if err != nil {
			return fmt.Errorf("prune archived audit: %w", err)
		}
		s.log.Info().Int64("pruned", pruned).Str("object", key).Msg("audit batch archived")

		if len(entries) < archiveBatchSize {
			return nil
		}
	}
}
