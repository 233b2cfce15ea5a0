package stt

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("%w: %w", ErrTranscription, context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"grpc unavailable", fmt.Errorf("%w: %w", ErrTranscription, status.Error(codes.Unavailable, "down")), "unavailable"},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad"), "invalidargument"},
		{"plain", errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorType(tt.err); got != tt.want {
				t.Errorf("ErrorType(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
