package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Log field keys shared across packages.
const (
	FieldModule    = "module"
	FieldObjectID  = "objectID"
	FieldClassID   = "classID"
	FieldStatus    = "status"
	FieldRequestID = "requestID"
)

var base = logrus.StandardLogger()

// Logger returns the service-wide log entry.
func Logger() *logrus.Entry {
	return base.WithField(FieldModule, "SparkCards")
}

// Module returns a log entry tagged with the given module name.
func Module(name string) *logrus.Entry {
	return base.WithField(FieldModule, name)
}

// Configure sets level and output format. Unknown levels fall back to info.
func Configure(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
	if strings.EqualFold(format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	// Cloud Logging picks up "severity" and "message".
	base.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
	})
}
