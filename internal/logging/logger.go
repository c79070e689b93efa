package logging

import (
	"fmt"
	"path"
	"runtime"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// Init sets the global logrus level. Debug also turns on caller reporting.
func Init(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("invalid log level %s, defaulting to INFO log level", logLevel)
		level = log.InfoLevel
	}

	if level == log.DebugLevel {
		log.SetReportCaller(true)
		log.SetFormatter(&log.TextFormatter{
			CallerPrettyfier: func(frame *runtime.Frame) (function string, file string) {
				fileName := path.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
				return "", fileName
			},
			TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true,
		})
	}

	log.SetLevel(level)
}

// New returns an entry tagged with the calling function name.
func New(fName string) *log.Entry {
	return log.WithFields(log.Fields{
		"fn": fmt.Sprintf("%s()", fName),
	})
}

func NewWithFields(fName string, fields map[string]interface{}) *log.Entry {
	f := log.Fields(fields)
	f["fn"] = fmt.Sprintf("%s()", fName)
	return log.WithFields(f)
}

// IsDebug reports whether the global logger runs at debug level.
func IsDebug() bool {
	return log.IsLevelEnabled(log.DebugLevel)
}
