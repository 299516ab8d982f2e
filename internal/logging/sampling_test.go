package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/verdanthealth/chartd/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func samplingTestConfig() SamplingConfig {
	return SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Second),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel: {Initial: 3, Thereafter: 0},
		},
	}
}

func TestSampling_DropsExcessInfoLogs(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	sampled := newSampledCore(core, samplingTestConfig())
	logger := &Logger{zap: zap.New(sampled), config: NewDefaultConfig()}

	for i := 0; i < 10; i++ {
		logger.Info(context.Background(), "repeated info")
	}

	// Initial 3 pass, Thereafter 0 drops the rest within the tick.
	assert.Equal(t, 3, observed.FilterMessage("repeated info").Len())
}

func TestSampling_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	sampled := newSampledCore(core, samplingTestConfig())
	logger := &Logger{zap: zap.New(sampled), config: NewDefaultConfig()}

	for i := 0; i < 10; i++ {
		logger.Error(context.Background(), "repeated error")
	}

	assert.Equal(t, 10, observed.FilterMessage("repeated error").Len())
}

func TestSampling_DisabledPassesEverything(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	sampled := newSampledCore(core, SamplingConfig{Enabled: false})
	logger := &Logger{zap: zap.New(sampled), config: NewDefaultConfig()}

	for i := 0; i < 10; i++ {
		logger.Info(context.Background(), "unsampled info")
	}

	assert.Equal(t, 10, observed.FilterMessage("unsampled info").Len())
}

func TestLevelFilterCore_With(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	filtered := &levelFilterCore{Core: core, minLevel: zapcore.ErrorLevel}

	child := filtered.With([]zapcore.Field{zap.String("component", "records")})
	logger := zap.New(child)

	logger.Info("filtered out")
	logger.Error("passes through")

	assert.Equal(t, 0, observed.FilterMessage("filtered out").Len())
	assert.Equal(t, 1, observed.FilterMessage("passes through").Len())
}
