//go:build libsql

package provider

import (
	_ "github.com/tursodatabase/go-libsql"
)

// With the libsql tag, libsql:// and http(s):// locations open a remote or
// self-hosted libSQL server instead of a local file.
func init() {
	remoteDrivers["libsql://"] = "libsql"
	remoteDrivers["http://"] = "libsql"
	remoteDrivers["https://"] = "libsql"
}
