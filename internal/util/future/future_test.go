package future

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAwait(t *testing.T) {
	testCases := []struct {
		name    string
		future  *Future[int]
		wantVal int
		wantErr bool
	}{
		{
			name:    "value",
			future:  New(context.Background(), func(context.Context) (int, error) { return 42, nil }),
			wantVal: 42,
		},
		{
			name:    "error",
			future:  New(context.Background(), func(context.Context) (int, error) { return 0, errors.New("failure") }),
			wantErr: true,
		},
		{
			name: "delayed value",
			future: New(context.Background(), func(context.Context) (int, error) {
				time.Sleep(5 * time.Millisecond)
				return 7, nil
			}),
			wantVal: 7,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := tc.future.Await(context.Background())
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantVal, v)
		})
	}
}

func TestCancelStopsWork(t *testing.T) {
	f := New(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	f.Cancel()
	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeadlineReachesWork(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	f := New(ctx, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	<-f.Done()
}

func TestAwaitRespectsContext(t *testing.T) {
	release := make(chan struct{})
	f := New(context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	close(release)
	<-f.Done()
}
