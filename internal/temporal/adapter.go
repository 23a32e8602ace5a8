// Package temporal bridges the worker's zap logger into the Temporal SDK's
// logging interface.
package temporal

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// Adapter exposes a zap.Logger through Temporal's log.Logger. The SDK passes
// log context as alternating key/value pairs; the adapter turns each pair
// into a zap field.
type Adapter struct {
	logger *zap.Logger
}

// NewAdapter wraps logger for use as the Temporal client and worker logger.
func NewAdapter(logger *zap.Logger) log.Logger {
	return &Adapter{logger: logger}
}

func (a *Adapter) Debug(msg string, keyvals ...interface{}) {
	a.logger.Debug(msg, fields(keyvals)...)
}

func (a *Adapter) Info(msg string, keyvals ...interface{}) {
	a.logger.Info(msg, fields(keyvals)...)
}

func (a *Adapter) Warn(msg string, keyvals ...interface{}) {
	a.logger.Warn(msg, fields(keyvals)...)
}

func (a *Adapter) Error(msg string, keyvals ...interface{}) {
	a.logger.Error(msg, fields(keyvals)...)
}

// With returns a child logger carrying the given key/value pairs.
func (a *Adapter) With(keyvals ...interface{}) log.Logger {
	return &Adapter{logger: a.logger.With(fields(keyvals)...)}
}

// fields converts SDK keyvals into zap fields. Pairs with non-string keys
// and a dangling trailing key are dropped.
func fields(keyvals []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		out = append(out, field(key, keyvals[i+1]))
	}
	return out
}

// field builds one zap field, downgrading values zap.Any cannot serialize to
// placeholder strings so the SDK's logging path never panics.
func field(key string, val interface{}) (f zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			f = zap.String(key, fmt.Sprintf("<unserializable: %v>", r))
		}
	}()
	if val == nil {
		return zap.String(key, "<nil>")
	}
	switch reflect.ValueOf(val).Kind() {
	case reflect.Func:
		return zap.String(key, "<func>")
	case reflect.Chan:
		return zap.String(key, "<chan>")
	case reflect.UnsafePointer:
		return zap.String(key, "<unsafe.Pointer>")
	default:
		return zap.Any(key, val)
	}
}
