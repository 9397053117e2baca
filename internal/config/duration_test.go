package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_YAML(t *testing.T) {
	var out struct {
		Interval Duration `yaml:"interval"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`interval: 1m30s`), &out))
	require.Equal(t, 90*time.Second, out.Interval.Duration)

	require.Error(t, yaml.Unmarshal([]byte(`interval: ninety`), &out))
}

func TestDuration_JSON(t *testing.T) {
	var out struct {
		Interval Duration `json:"interval"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"interval": "250ms"}`), &out))
	require.Equal(t, 250*time.Millisecond, out.Interval.Duration)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	require.JSONEq(t, `{"interval": "250ms"}`, string(data))
}

func TestDuration_TOML(t *testing.T) {
	var out struct {
		Interval Duration `toml:"interval"`
	}
	require.NoError(t, toml.Unmarshal([]byte(`interval = "45s"`), &out))
	require.Equal(t, 45*time.Second, out.Interval.Duration)
}
