package storage

import logx "github.com/ije/gox/log"

var log = &logx.Logger{}

// SetLogger lets the server package share its configured logger with the
// storage drivers, so a bolt/local-fs error surfaces through the same
// log file as everything else.
func SetLogger(l *logx.Logger) {
	log = l
}
