package zapLogger

import (
	"io"
	"os"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLogPath = "app.log"

var (
	once sync.Once
	Log  *zap.SugaredLogger
)

// Init initializes zap logger and returns the opened log file handle.
// An empty path uses app.log in the working directory.
func Init(path string) *os.File {
	var logFile *os.File
	once.Do(func() {
		if path == "" {
			path = defaultLogPath
		}

		var err error
		logFile, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			panic("cannot open log file: " + err.Error())
		}

		fileWriter := zapcore.AddSync(logFile)
		consoleWriter := zapcore.AddSync(os.Stdout)

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.NewMultiWriteSyncer(consoleWriter, fileWriter),
			zap.InfoLevel,
		)

		logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
		Log = logger.Sugar()
	})
	return logFile
}

// Structured returns the underlying structured logger for libraries that take
// a *zap.Logger. Before Init it returns a no-op logger.
func Structured() *zap.Logger {
	if Log == nil {
		return zap.NewNop()
	}
	return Log.Desugar().WithOptions(zap.AddCallerSkip(-1))
}

// FiberLoggingMiddleware returns Fiber's built-in logger middleware writing logs to stdout and given logFile
func FiberLoggingMiddleware(logFile *os.File) fiber.Handler {
	return logger.New(logger.Config{
		Output:     io.MultiWriter(os.Stdout, logFile),
		Format:     "${time} | ${locals:requestid} | ${status} | ${method} | ${path} | ${latency}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	})
}
