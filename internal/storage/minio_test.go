package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

func TestForwardObjects(t *testing.T) {
	listFailed := errors.New("access denied")

	tests := []struct {
		name    string
		listed  []minio.ObjectInfo
		wantN   int
		wantErr error
	}{
		{"all forwarded", []minio.ObjectInfo{{Key: "a"}, {Key: "b"}}, 2, nil},
		{"listing error", []minio.ObjectInfo{{Key: "a"}, {Err: listFailed}, {Key: "c"}}, 1, listFailed},
		{"empty", nil, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make(chan minio.ObjectInfo, len(tt.listed))
			for _, o := range tt.listed {
				in <- o
			}
			close(in)

			out := make(chan minio.ObjectInfo, len(tt.listed))
			err := forwardObjects(context.Background(), in, out)
			close(out)

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
			if n := len(out); n != tt.wantN {
				t.Errorf("expected %d forwarded objects, got %d", tt.wantN, n)
			}
		})
	}
}

func TestForwardObjects_StopsWhenConsumerGone(t *testing.T) {
	in := make(chan minio.ObjectInfo, 2)
	in <- minio.ObjectInfo{Key: "a"}
	in <- minio.ObjectInfo{Key: "b"}
	close(in)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		// Nobody reads out.
		done <- forwardObjects(ctx, in, make(chan minio.ObjectInfo))
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forwardObjects blocked after cancellation")
	}
}
