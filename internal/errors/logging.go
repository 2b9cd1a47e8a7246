package errors

import (
	"github.com/sirupsen/logrus"
)

// Fields returns the structured log fields carried by err.
func Fields(err error) logrus.Fields {
	fields := logrus.Fields{}
	appErr, ok := As(err)
	if !ok {
		return fields
	}
	fields["error_code"] = appErr.Code
	fields["retryable"] = appErr.Retryable
	for k, v := range appErr.Context {
		if k == "tenant" || k == "resolved" {
			continue
		}
		fields[k] = v
	}
	return fields
}

// LogError logs err at error level with its AppError context
func LogError(logger logrus.FieldLogger, err error, message string, fields ...logrus.Fields) {
	entry(logger, err, fields).Error(message)
}

// LogWarn logs err at warn level with its AppError context
func LogWarn(logger logrus.FieldLogger, err error, message string, fields ...logrus.Fields) {
	entry(logger, err, fields).Warn(message)
}

// LogRetryableError logs a retryable error at warn level, non-retryable at error level
func LogRetryableError(logger logrus.FieldLogger, err error, message string, fields ...logrus.Fields) {
	if IsRetryable(err) {
		LogWarn(logger, err, message, fields...)
		return
	}
	LogError(logger, err, message, fields...)
}

func entry(logger logrus.FieldLogger, err error, fields []logrus.Fields) *logrus.Entry {
	e := logger.WithError(err).WithFields(Fields(err))
	for _, f := range fields {
		e = e.WithFields(f)
	}
	return e
}
