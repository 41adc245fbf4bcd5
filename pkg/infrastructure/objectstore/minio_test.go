package objectstore

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/arbor/pkg/errors"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{Endpoint: "localhost:9000", AccessKey: "user", SecretKey: "secret"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no endpoint", func(c *Config) { c.Endpoint = "" }},
		{"no access key", func(c *Config) { c.AccessKey = "" }},
		{"no secret key", func(c *Config) { c.SecretKey = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err))
		})
	}
}

func TestNew(t *testing.T) {
	c, err := New(Config{Endpoint: "localhost:9000", AccessKey: "user", SecretKey: "secret"}, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = New(Config{}, zerolog.Nop())
	assert.True(t, errors.IsInvalidArgument(err))
}
