// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LogLevelError string = "error"
	LogLevelWarn  string = "warn"
	LogLevelInfo  string = "info"
	LogLevelDebug string = "debug"
)

type LogFunc func(ts time.Time, level string, msg *Message, err error, log string)

var logFunc LogFunc = defaultLogFunc
var logLevel int = 2
var zlog *zap.SugaredLogger

func init() {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	zc.DisableStacktrace = true
	l, err := zc.Build()
	if err != nil {
		l = zap.NewNop()
	}
	zlog = l.Sugar()
}

func SetLogFunc(lf LogFunc) {
	logFunc = lf
}

func SetLogLevel(level string) {
	switch level {
	case LogLevelError:
		logLevel = 1
	case LogLevelWarn:
		logLevel = 2
	case LogLevelInfo:
		logLevel = 3
	case LogLevelDebug:
		logLevel = 4
	default:
		logLevel = 0
	}
}

func defaultLogFunc(ts time.Time, level string, msg *Message, err error, l string) {
	kv := []interface{}{}
	if msg != nil && len(msg.Meta.RemoteAddr) != 0 {
		kv = append(kv, "remote", msg.Meta.RemoteAddr)
	}
	if err != nil {
		kv = append(kv, "error", err)
	}
	switch level {
	case LogLevelError:
		zlog.Errorw(l, kv...)
	case LogLevelWarn:
		zlog.Warnw(l, kv...)
	case LogLevelInfo:
		zlog.Infow(l, kv...)
	default:
		zlog.Debugw(l, kv...)
	}
}

func logError(msg *Message, err error, f string, args ...interface{}) {
	if logLevel < 1 {
		return
	}
	logFunc(time.Now(), LogLevelError, msg, err, fmt.Sprintf(f, args...))
}

func logWarn(msg *Message, err error, f string, args ...interface{}) {
	if logLevel < 2 {
		return
	}
	logFunc(time.Now(), LogLevelWarn, msg, err, fmt.Sprintf(f, args...))
}

func logInfo(msg *Message, f string, args ...interface{}) {
	if logLevel < 3 {
		return
	}
	logFunc(time.Now(), LogLevelInfo, msg, nil, fmt.Sprintf(f, args...))
}

func logDebug(msg *Message, err error, f string, args ...interface{}) {
	if logLevel < 4 {
		return
	}
	logFunc(time.Now(), LogLevelDebug, msg, err, fmt.Sprintf(f, args...))
}
