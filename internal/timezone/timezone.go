// Package timezone resolves the IANA zone name the client reports to the
// server in REST headers and realtime frames.
package timezone

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Fallback is used when no zone can be detected.
const Fallback = "Europe/Budapest"

// Header is the REST header carrying the zone.
const Header = "X-Client-Timezone"

// Service caches the detected zone and accepts overrides.
type Service struct {
	mu     sync.RWMutex
	zone   string
	detect func() string
}

// New returns a Service. A non-empty override wins over detection.
func New(override string) *Service {
	s := &Service{detect: Detect}
	s.Set(override)
	return s
}

// Get returns the cached zone, detecting it on first use.
func (s *Service) Get() string {
	s.mu.RLock()
	zone := s.zone
	s.mu.RUnlock()
	if zone != "" {
		return zone
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zone == "" {
		s.zone = s.detect()
	}
	return s.zone
}

// Set overrides the zone; blank values are ignored. It returns the active zone.
func (s *Service) Set(zone string) string {
	zone = strings.TrimSpace(zone)
	if zone != "" {
		s.mu.Lock()
		s.zone = zone
		s.mu.Unlock()
	}
	return s.Get()
}

// Refresh re-runs detection.
func (s *Service) Refresh() string {
	s.mu.Lock()
	s.zone = ""
	s.mu.Unlock()
	return s.Get()
}

// Detect inspects TZ, the /etc/localtime link, then time.Local.
func Detect() string {
	if tz := strings.TrimPrefix(strings.TrimSpace(os.Getenv("TZ")), ":"); valid(tz) {
		return tz
	}
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		if zone := zoneFromPath(target); valid(zone) {
			return zone
		}
	}
	if name := time.Local.String(); valid(name) {
		return name
	}
	return Fallback
}

func zoneFromPath(path string) string {
	path = filepath.ToSlash(path)
	const marker = "zoneinfo/"
	if i := strings.LastIndex(path, marker); i >= 0 {
		return path[i+len(marker):]
	}
	return ""
}

func valid(zone string) bool {
	if zone == "" || zone == "Local" || zone == "Etc/Unknown" {
		return false
	}
	_, err := time.LoadLocation(zone)
	return err == nil
}
