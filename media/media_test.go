package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tsukikage7/gather/logger"
)

func TestNoopCleaner(t *testing.T) {
	require.NoError(t, Noop().RemoveAll(context.Background(), 42))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"缺少endpoint", Config{Bucket: "b"}, ErrEmptyEndpoint},
		{"缺少bucket", Config{Endpoint: "http://127.0.0.1:9000"}, ErrEmptyBucket},
		{"完整配置", Config{Endpoint: "http://127.0.0.1:9000", Bucket: "b"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.cfg.Validate(), tt.want)
		})
	}
}

func TestNewS3CleanerValidation(t *testing.T) {
	_, err := NewS3Cleaner(nil, logger.Nop())
	require.ErrorIs(t, err, ErrNilConfig)

	_, err = NewS3Cleaner(&Config{Endpoint: "http://127.0.0.1:9000", Bucket: "b"}, nil)
	require.ErrorIs(t, err, ErrNilLogger)

	_, err = NewS3Cleaner(&Config{}, logger.Nop())
	require.ErrorIs(t, err, ErrEmptyEndpoint)
}
