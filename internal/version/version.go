// Package version reports the syncre client version.
//
// CommitHash and BuildDate are set with -ldflags at build time, e.g.
//
//	-X github.com/Syncre-App/chatcore/internal/version.CommitHash=$(git rev-parse --short HEAD)
package version

import (
	"fmt"
	"strings"
)

var (
	// CommitHash is the git commit of this build.
	CommitHash string
	// BuildDate is the RFC 3339 build timestamp.
	BuildDate string
)

const (
	major uint = 0
	minor uint = 4
	patch uint = 0

	// preRelease may only use [0-9A-Za-z-]; anything else is dropped.
	preRelease = "beta"
)

// Version returns the semantic version, e.g. "0.4.0-beta".
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if pre := semverIdent(preRelease); pre != "" {
		v += "-" + pre
	}
	return v
}

// RichVersion appends whatever build metadata was linked in.
func RichVersion() string {
	var meta []string
	if v := strings.TrimSpace(CommitHash); v != "" {
		meta = append(meta, "commit="+v)
	}
	if v := strings.TrimSpace(BuildDate); v != "" {
		meta = append(meta, "built="+v)
	}
	if len(meta) == 0 {
		return Version()
	}
	return Version() + " " + strings.Join(meta, " ")
}

// UserAgent is sent with every REST request.
func UserAgent() string {
	return "syncre-chatcore/" + Version()
}

func semverIdent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
			return r
		}
		return -1
	}, s)
}
