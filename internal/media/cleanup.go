package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"wagateway/internal/constants"
	"wagateway/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Cleaner periodically removes stored media older than a maximum age.
type Cleaner struct {
	dir      string
	maxAge   time.Duration
	schedule string
	logger   *logrus.Logger

	cron *cron.Cron
	now  func() time.Time
}

func NewCleaner(dir string, maxAge time.Duration, schedule string, logger *logrus.Logger) *Cleaner {
	if maxAge <= 0 {
		maxAge = time.Duration(constants.DefaultMediaCleanupMaxAgeHours) * time.Hour
	}
	if schedule == "" {
		schedule = constants.DefaultMediaCleanupSchedule
	}
	return &Cleaner{
		dir:      dir,
		maxAge:   maxAge,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs one cleanup immediately and schedules the rest.
func (c *Cleaner) Start(ctx context.Context) error {
	if c.cron != nil {
		c.logger.Warn("Media cleanup service is already running")
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(c.schedule, func() { c.runLogged(ctx) }); err != nil {
		return fmt.Errorf("invalid media cleanup schedule %q: %w", c.schedule, err)
	}
	c.cron = scheduler

	c.logger.WithFields(logrus.Fields{
		"schedule":      c.schedule,
		"max_age_hours": c.maxAge.Hours(),
	}).Info("Starting media cleanup service")

	c.runLogged(ctx)
	scheduler.Start()
	return nil
}

// Stop halts scheduling and waits for a running cleanup to finish.
func (c *Cleaner) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.cron = nil
	c.logger.Info("Media cleanup service stopped")
}

func (c *Cleaner) runLogged(ctx context.Context) {
	if _, err := c.Cleanup(ctx); err != nil {
		c.logger.WithError(err).Error("Media cleanup failed")
	}
}

// Cleanup deletes expired files and returns how many were removed.
func (c *Cleaner) Cleanup(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("Media directory does not exist yet, skipping cleanup")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read media directory: %w", err)
	}

	now := c.now()
	removed := 0
	var freed int64

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			c.logger.WithError(err).WithField("file", name).Warn("Failed to process media file")
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		age := now.Sub(info.ModTime())
		if age <= c.maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.logger.WithError(err).WithField("file", name).Warn("Failed to process media file")
			}
			continue
		}
		removed++
		freed += info.Size()
		c.logger.WithFields(logrus.Fields{
			"file":      name,
			"age_hours": math.Round(age.Hours()),
		}).Debug("Deleted old media file")
	}

	if removed > 0 {
		metrics.AddToCounter(metrics.MediaCleanupRemoved, float64(removed), nil)
		c.logger.Infof("Cleaned up %d old media files (freed %s)", removed, FormatBytes(freed))
	} else {
		c.logger.Debug("No old media files to clean up")
	}
	return removed, nil
}

// FormatBytes renders a size with up to two decimals, e.g. "1.5 KB".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if i >= len(units) {
		i = len(units) - 1
	}
	value := float64(n) / math.Pow(1024, float64(i))
	return strconv.FormatFloat(math.Round(value*100)/100, 'f', -1, 64) + " " + units[i]
}
