// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the CLI logger writing to w. Without debug only warnings
// and errors are shown so that command output on stdout stays readable.
func NewLogger(debug bool, w io.Writer) *zap.SugaredLogger {
	return zap.New(newCore(debug, w)).Sugar()
}

func newCore(debug bool, w io.Writer) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	level := zapcore.WarnLevel
	if debug {
		encCfg = zap.NewDevelopmentEncoderConfig()
		level = zapcore.DebugLevel
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
}

// RedactToken keeps only a short prefix of a credential for log fields.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "[redacted]"
	}
	return token[:4] + "...[redacted]"
}
