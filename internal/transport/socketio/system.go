package socketio

import (
	"os"

	"github.com/tasselx/taimusic/internal/version"
)

// SystemInfo represents basic system information.
type SystemInfo struct {
	ID            string `json:"id"`            // Unique device ID
	Host          string `json:"host"`          // Hostname
	Name          string `json:"name"`          // Display name
	Type          string `json:"type"`          // Device type
	SystemVersion string `json:"systemversion"` // System version
	BuildDate     string `json:"builddate"`     // Build date
	Platform      string `json:"platform"`
}

// GetSystemInfo returns basic system information.
func GetSystemInfo() SystemInfo {
	v := version.GetInfo()
	info := SystemInfo{
		Name:          v.Name,
		Type:          "audio_player",
		SystemVersion: v.Version,
		BuildDate:     v.BuildTime,
		Platform:      v.Platform,
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Host = hostname
		info.ID = hostname
	}

	return info
}
