//go:build !windows
// +build !windows

package logg

import (
	"fmt"
	"log/syslog"
	"os"
	"path"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	lsys "github.com/sirupsen/logrus/hooks/syslog"
)

const (
	logSuffix = "%Y%m%d-%H.log"
)

// InitLogHook routes Dlog and Dbridgelog into rotating files under logDir,
// or into syslog when logDir is empty. Loggers pick the hooks up on the
// next InitLogger.
func InitLogHook(logDir string, logMaxAge, logRotationTime time.Duration) error {
	if logDir == "" {
		hook, err := lsys.NewSyslogHook("", "", syslog.LOG_DEBUG, "go-vfs")
		if err != nil {
			// 没有 syslog 时只输出到 stderr
			fmt.Fprintf(os.Stderr, "Failed to create syslog hook: %v\n", err)
			return nil
		}
		syslogHook = hook
		return nil
	}

	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		return fmt.Errorf("create log dir %s: %w", logDir, err)
	}

	files := []struct {
		name string
		hook *logrus.Hook
	}{
		{"go-vfs", &defaultLogHook},
		{"bridge", &bridgeLogHook},
	}
	for _, f := range files {
		hook, err := newRotatelogHook(path.Join(logDir, f.name+"-"+logSuffix), logMaxAge, logRotationTime)
		if err != nil {
			return fmt.Errorf("create %s log hook: %w", f.name, err)
		}
		*f.hook = hook
	}
	return nil
}

func newRotatelogHook(logPath string, maxAge, rotationTime time.Duration) (logrus.Hook, error) {
	writer, err := rotatelogs.New(
		logPath,
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(rotationTime),
	)
	if err != nil {
		return nil, err
	}

	writeMap := lfshook.WriterMap{}
	for _, level := range logrus.AllLevels {
		writeMap[level] = writer
	}

	formatter := &CommonLogFormatter{
		pid: os.Getpid(),
	}
	return lfshook.NewHook(writeMap, formatter), nil
}
