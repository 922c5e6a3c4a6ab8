package logging

import (
	"encoding/json"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var bufferPool = buffer.NewPool()

// ScalyrEncoder is a custom Zap encoder that outputs Scalyr-compatible JSON
// format: a flat object with the entry metadata and every field at the top
// level. Fields added with Logger.With are kept in the embedded map encoder.
type ScalyrEncoder struct {
	*zapcore.MapObjectEncoder
	config zapcore.EncoderConfig
}

// NewScalyrEncoder creates a new Scalyr-compatible encoder
func NewScalyrEncoder(config zapcore.EncoderConfig) zapcore.Encoder {
	return &ScalyrEncoder{
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
		config:           config,
	}
}

// EncodeEntry encodes a log entry in Scalyr-compatible format
func (e *ScalyrEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	logObj := make(map[string]interface{}, len(e.Fields)+len(fields)+8)
	for k, v := range e.Fields {
		logObj[k] = v
	}

	// Per-entry fields override context fields with the same key
	entryFields := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(entryFields)
	}
	for k, v := range entryFields.Fields {
		logObj[k] = normalize(v)
	}

	logObj["timestamp"] = entry.Time.Format(time.RFC3339Nano)
	logObj["level"] = entry.Level.String()
	logObj["message"] = entry.Message
	if entry.LoggerName != "" {
		logObj["logger"] = entry.LoggerName
	}

	// Add caller information if available
	if entry.Caller.Defined {
		logObj["file"] = entry.Caller.File
		logObj["line"] = entry.Caller.Line
		logObj["function"] = entry.Caller.Function
	}

	// Add stack trace if available
	if entry.Stack != "" {
		logObj["stack"] = entry.Stack
	}

	buf := bufferPool.Get()
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(logObj); err != nil {
		buf.Free()
		return nil, err
	}
	return buf, nil
}

// Clone creates a copy of the encoder
func (e *ScalyrEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		clone.Fields[k] = v
	}
	return &ScalyrEncoder{
		MapObjectEncoder: clone,
		config:           e.config,
	}
}

// normalize renders values the map encoder keeps in their Go form
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Duration:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return v
	}
}
