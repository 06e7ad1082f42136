package logging

import (
	"context"
)

const (
	RequestIDKey    = "request_id"
	AccountIDKey    = "account_id"
	EnrollmentIDKey = "enrollment_id"
	ServiceNameKey  = "service_name"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

func WithEnrollmentID(ctx context.Context, enrollmentID string) context.Context {
	return context.WithValue(ctx, EnrollmentIDKey, enrollmentID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func GetAccountID(ctx context.Context) string {
	if accountID, ok := ctx.Value(AccountIDKey).(string); ok {
		return accountID
	}
	return ""
}

func GetEnrollmentID(ctx context.Context) string {
	if enrollmentID, ok := ctx.Value(EnrollmentIDKey).(string); ok {
		return enrollmentID
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(ServiceNameKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}

	if accountID := GetAccountID(ctx); accountID != "" {
		fields = append(fields, "account_id", accountID)
	}

	if enrollmentID := GetEnrollmentID(ctx); enrollmentID != "" {
		fields = append(fields, "enrollment_id", enrollmentID)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
