package audio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

func TestParseDeviceListFallback(t *testing.T) {
	fallback := []types.AudioDevice{{ID: "default", Name: "Default"}}

	devices := parseDeviceList(DeviceListConfig{FallbackDevices: fallback})
	require.Equal(t, fallback, devices)
}
