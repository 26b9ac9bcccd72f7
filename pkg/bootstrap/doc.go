// Package bootstrap turns a config.Config into the running components shared
// by the server and the retention job: the audit store, the live counts
// behind analytics, the stats cache and the archive target.
package bootstrap
