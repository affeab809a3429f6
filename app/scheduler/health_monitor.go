package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/zapcast/zapcast/app/services"
	"github.com/zapcast/zapcast/config"
	"github.com/zapcast/zapcast/models"
	"github.com/zapcast/zapcast/repository"
)

const channelStatusTTL = 10 * time.Minute

// ChannelHealthMonitor polls the provider for each chip's connectivity and
// reconciles the stored status. A failed poll keeps the previous status on
// record so a gateway outage does not read as a mass disconnect.
type ChannelHealthMonitor struct {
	channelRepo repository.ChannelRepository
	sender      services.ChannelSender
	rc          *redis.Client
	cachePrefix string
	logger      *log.Logger
	cronSpec    string
	cron        *cron.Cron

	now func() time.Time
}

func NewChannelHealthMonitor(
	channelRepo repository.ChannelRepository,
	sender services.ChannelSender,
	rc *redis.Client,
	cacheCfg config.CacheConfig,
	cfg config.SchedulerConfig,
) *ChannelHealthMonitor {
	spec := cfg.HealthCronSpec
	if spec == "" {
		spec = "*/2 * * * *"
	}
	return &ChannelHealthMonitor{
		channelRepo: channelRepo,
		sender:      sender,
		rc:          rc,
		cachePrefix: cacheCfg.RedisPrefix,
		logger:      newSchedulerLogger("health", cfg.LogDir),
		cronSpec:    spec,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the periodic poll and returns a stop function.
func (m *ChannelHealthMonitor) Start(parent context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(parent)

	c := cron.New()
	_, err := c.AddFunc(m.cronSpec, func() {
		m.runOnce(ctx)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid health cron spec %q: %w", m.cronSpec, err)
	}
	m.cron = c
	c.Start()

	return func() {
		cancel()
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}, nil
}

func (m *ChannelHealthMonitor) runOnce(ctx context.Context) {
	channels, err := m.channelRepo.ListActive(ctx)
	if err != nil {
		m.logger.Printf("health: list channels failed: %v", err)
		return
	}

	for _, channel := range channels {
		m.checkChannel(ctx, channel)
	}
}

func (m *ChannelHealthMonitor) checkChannel(ctx context.Context, channel *models.Channel) {
	status, err := m.sender.ChannelStatus(ctx, channel.ID)
	if err != nil {
		m.logger.Printf("health: status poll for channel id=%d failed, keeping %s: %v", channel.ID, channel.Status, err)
		return
	}

	now := m.now()
	if status == channel.Status {
		if err := m.channelRepo.UpdateStatus(ctx, channel.ID, status, now); err != nil {
			m.logger.Printf("health: touch channel id=%d failed: %v", channel.ID, err)
		}
		return
	}

	if err := m.channelRepo.UpdateStatus(ctx, channel.ID, status, now); err != nil {
		m.logger.Printf("health: update channel id=%d status failed: %v", channel.ID, err)
		return
	}
	channelStatusChanges.WithLabelValues(string(status)).Inc()
	m.logger.Printf("health: channel id=%d (%s) %s -> %s", channel.ID, channel.Name, channel.Status, status)
	m.cacheStatus(ctx, channel.ID, status)
}

// cacheStatus mirrors the latest observed status into redis for cheap reads
// by other instances. Best effort only.
func (m *ChannelHealthMonitor) cacheStatus(ctx context.Context, channelID uint, status models.ChannelStatus) {
	if m.rc == nil {
		return
	}
	key := fmt.Sprintf("%schannel_status:%d", m.cachePrefix, channelID)
	if err := m.rc.Set(ctx, key, string(status), channelStatusTTL).Err(); err != nil {
		m.logger.Printf("health: cache channel id=%d status failed: %v", channelID, err)
	}
}
