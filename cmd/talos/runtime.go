package main

import (
	"os"
	"runtime/debug"
	"strconv"

	"go.uber.org/zap"
)

// applyRuntimeSettings applies TALOS_GOGC and TALOS_MEMORY_LIMIT_MB once
// at startup.
func applyRuntimeSettings(logger *zap.Logger) {
	if v := os.Getenv("TALOS_GOGC"); v != "" {
		if pct, err := strconv.Atoi(v); err == nil {
			prev := debug.SetGCPercent(pct)
			logger.Info("GC percent set", zap.Int("gogc", pct), zap.Int("previous", prev))
		} else {
			logger.Warn("Ignoring invalid TALOS_GOGC", zap.String("value", v))
		}
	}
	if v := os.Getenv("TALOS_MEMORY_LIMIT_MB"); v != "" {
		if mb, err := strconv.ParseInt(v, 10, 64); err == nil && mb > 0 {
			debug.SetMemoryLimit(mb << 20)
			logger.Info("Memory limit set", zap.Int64("limit_mb", mb))
		} else {
			logger.Warn("Ignoring invalid TALOS_MEMORY_LIMIT_MB", zap.String("value", v))
		}
	}
}
