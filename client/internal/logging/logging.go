package logging

import (
	"io"
	"log"
	"os"

	"feedsync/client/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup 按配置设置标准库 log 的输出，返回需要在退出时关闭的 writer。
// output 为 stderr/stdout 时直接输出；否则视为文件路径，按大小滚动。
// level 为 debug 时日志带源码位置。
func Setup(cfg config.LoggingConfig) io.Closer {
	flags := log.LstdFlags | log.Lmicroseconds
	if cfg.Level == "debug" {
		flags |= log.Lshortfile
	}
	log.SetFlags(flags)

	out, closer := Writer(cfg)
	log.SetOutput(out)
	return closer
}

// Writer 根据配置构造日志输出。
func Writer(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	switch cfg.Output {
	case "", "stderr":
		return os.Stderr, nopCloser{}
	case "stdout":
		return os.Stdout, nopCloser{}
	}

	roller := &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return roller, roller
}

// New 创建带组件前缀的 logger，与全局 log 共享输出。
func New(component string) *log.Logger {
	return log.New(log.Writer(), "["+component+"] ", log.Flags())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
