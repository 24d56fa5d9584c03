package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReportKey(t *testing.T) {
	started := time.Date(2025, 3, 14, 23, 30, 0, 0, time.FixedZone("BRT", -3*3600))
	key := ReportKey("studio-1", "rec-9", started)
	assert.Equal(t, "session-reports/studio-1/2025/03/rec-9.json", key)
}

func TestPresignExpireDefault(t *testing.T) {
	s := &S3{}
	assert.Equal(t, 15*time.Minute, s.PresignExpire())
	s.cfg.PresignExpireMinutes = 60
	assert.Equal(t, time.Hour, s.PresignExpire())
}
