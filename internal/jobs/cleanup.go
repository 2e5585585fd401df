package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/songjam/rooms-server/internal/pubsub"
	"github.com/songjam/rooms-server/internal/redis"
	"github.com/songjam/rooms-server/internal/repository"
)

// CleanupJob sweeps the store on an interval: stale speaker requests,
// hosting sessions left open after their room ended, and live rooms the
// host abandoned without ending.
type CleanupJob struct {
	roomRepo     repository.RoomRepository
	sessionRepo  repository.RoomSessionRepository
	requestRepo  repository.SpeakerRequestRepository
	broker       *pubsub.Broker
	requestTTL   time.Duration
	abandonAfter time.Duration
	interval     time.Duration
	done         chan struct{}
}

func NewCleanupJob(
	roomRepo repository.RoomRepository,
	sessionRepo repository.RoomSessionRepository,
	requestRepo repository.SpeakerRequestRepository,
	broker *pubsub.Broker,
	requestTTL time.Duration,
	abandonAfter time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		roomRepo:     roomRepo,
		sessionRepo:  sessionRepo,
		requestRepo:  requestRepo,
		broker:       broker,
		requestTTL:   requestTTL,
		abandonAfter: abandonAfter,
		interval:     interval,
		done:         make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()

	j.runCleanup(ctx, "stale speaker requests", func(ctx context.Context) (int64, error) {
		return j.requestRepo.DeleteStale(ctx, now.Add(-j.requestTTL))
	})

	j.runCleanup(ctx, "orphaned room sessions", func(ctx context.Context) (int64, error) {
		return j.sessionRepo.CloseOrphaned(ctx)
	})

	abandoned := j.runCleanup(ctx, "abandoned rooms", func(ctx context.Context) (int64, error) {
		return j.roomRepo.EndAbandoned(ctx, now.Add(-j.abandonAfter))
	})

	if abandoned > 0 {
		j.publishLive(ctx)
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) int64 {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
		return 0
	}
	if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
	return count
}

// publishLive refreshes live-list subscribers after abandoned rooms
// were ended outside the normal end flow.
func (j *CleanupJob) publishLive(ctx context.Context) {
	rooms, err := j.roomRepo.ListLive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load live rooms after cleanup")
		return
	}
	if err := j.broker.Publish(ctx, redis.LiveChannel, pubsub.NewEvent(pubsub.EventLiveRooms, rooms)); err != nil {
		log.Error().Err(err).Msg("failed to publish live rooms after cleanup")
	}
}
