package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"idguard/api/internal/config"
	"idguard/api/internal/repository"
	"idguard/api/internal/service"
	"idguard/api/internal/storage"
)

// Scheduler runs the periodic maintenance sweeps: suspension expiry,
// dead-session garbage collection, token purge and audit archival.
// Every sweep is idempotent, so overlapping or repeated runs are safe;
// a redis lease keeps them single-flight across replicas.
type Scheduler struct {
	cron        *cron.Cron
	store       *repository.Store
	suspensions *service.SuspensionService
	archive     *storage.ArchiveStore
	locker      *redis.Client
	cfg         *config.AppConfig
	log         zerolog.Logger
}

func NewScheduler(
	store *repository.Store,
	suspensions *service.SuspensionService,
	archive *storage.ArchiveStore,
	locker *redis.Client,
	cfg *config.AppConfig,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		store:       store,
		suspensions: suspensions,
		archive:     archive,
		locker:      locker,
		cfg:         cfg,
		log:         log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 */5 * * * *", s.runSuspensionSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 15 * * * *", s.runRetentionSweep); err != nil { // hourly
		return err
	}
	if _, err := s.cron.AddFunc("0 0 3 * * *", s.runAuditArchive); err != nil { // nightly
		return err
	}

	s.cron.Start()
	return nil
}

// Stop waits for any in-flight sweep to finish, up to a grace period.
func (s *Scheduler) Stop() {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

// withLease runs fn only when this replica holds the named lease. The
// lease expires on its own; sweeps are idempotent, so a crashed holder
// just means the next tick elsewhere redoes the work.
func (s *Scheduler) withLease(name string, ttl time.Duration, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), ttl)
	defer cancel()

	if s.locker != nil {
		ok, err := s.locker.SetNX(ctx, "sweep_lease:"+name, 1, ttl).Result()
		if err != nil {
			s.log.Warn().Err(err).Str("sweep", name).Msg("lease acquire failed, running anyway")
		} else if !ok {
			return
		}
	}

	fn(ctx)
}

func (s *Scheduler) runSuspensionSweep() {
	s.withLease("suspension_expiry", 2*time.Minute, func(ctx context.Context) {
		expired, err := s.suspensions.ExpireSweep(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("suspension sweep failed")
			return
		}
		if expired > 0 {
			s.log.Info().Int("expired", expired).Msg("suspensions expired")
		}
	})
}

func (s *Scheduler) runRetentionSweep() {
	s.withLease("retention", 5*time.Minute, func(ctx context.Context) {
		now := time.Now().UTC()

		sessions, err := s.store.Sessions.DeleteExpiredBefore(ctx, now.Add(-s.cfg.Security.SessionRetention))
		if err != nil {
			s.log.Error().Err(err).Msg("session gc failed")
		}

		verifications, err := s.store.Verifications.PurgeDeadBefore(ctx, now)
		if err != nil {
			s.log.Error().Err(err).Msg("verification purge failed")
		}

		resets, err := s.store.Resets.PurgeDeadBefore(ctx, now)
		if err != nil {
			s.log.Error().Err(err).Msg("reset purge failed")
		}

		if sessions+verifications+resets > 0 {
			s.log.Info().
				Int64("sessions", sessions).
				Int64("verifications", verifications).
				Int64("resets", resets).
				Msg("retention sweep done")
		}
	})
}
