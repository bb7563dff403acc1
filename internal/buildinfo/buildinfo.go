// Package buildinfo carries version metadata stamped at link time:
//
//	go build -ldflags "-X github.com/ZanzyTHEbar/ontograph-libsql-go/internal/buildinfo.Version=v0.3.0"
package buildinfo

import "fmt"

var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)

// String renders all fields on one line.
func String() string {
	return fmt.Sprintf("%s (rev %s, built %s)", Version, Revision, BuildDate)
}
