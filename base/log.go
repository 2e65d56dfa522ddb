package base

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

var Logger = logrus.New()

const (
	TimestampFormat = "2006-01-02T15:04:05.000000Z08:00"
)

// InitLog applies the LOG section to Logger. When LogToFile is set the
// returned closer owns the opened log file.
func InitLog(cfg *LOG, dir string) (io.Closer, error) {
	Logger.SetReportCaller(cfg.ReportCaller)

	switch cfg.Format {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: TimestampFormat,
		})
	case "text":
		fallthrough
	default:
		Logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: TimestampFormat,
		})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", cfg.LogLevel)
	}
	Logger.SetLevel(level)

	if !cfg.LogToFile {
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "create log dir")
	}

	strTime := strings.ReplaceAll(time.Now().Format(TimestampFormat), ":", "_")
	logName := filepath.Join(dir, fmt.Sprintf("%s.%s.log", filepath.Base(os.Args[0]), strTime))

	logFile, err := os.OpenFile(logName, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", logName)
	}

	Logger.SetOutput(logFile)
	Logger.Infof("Open %s success", logName)

	return logFile, nil
}
