//go:build darwin

package audio

import (
	"regexp"

	"github.com/oszuidwest/zwfm-reporter/internal/types"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		InputFormat:   "avfoundation",
		DefaultDevice: ":0",
	}
}

func (cfg *CaptureConfig) Devices() []types.AudioDevice {
	return parseDeviceList(DeviceListConfig{
		Command:          []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
		AudioStartMarker: "AVFoundation audio devices:",
		AudioStopMarker:  "AVFoundation video devices:",
		DevicePattern:    regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`),
		ParseDevice: func(matches []string) *types.AudioDevice {
			if len(matches) < 3 {
				return nil
			}
			return &types.AudioDevice{
				ID:   ":" + matches[1],
				Name: matches[2],
			}
		},
		FallbackDevices: nil,
	})
}
