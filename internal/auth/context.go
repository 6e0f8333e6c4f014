package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxDeviceID ctxKey = iota
	ctxRole
)

func WithIdentity(ctx context.Context, deviceID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxDeviceID, deviceID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func DeviceID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxDeviceID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("device_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
