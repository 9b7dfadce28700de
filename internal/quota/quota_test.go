package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = int64(1) << 20

type fakeSource struct {
	usage Usage
	err   error
	calls int
}

func (f *fakeSource) GetUserQuota(_ context.Context, _ string) (Usage, error) {
	f.calls++
	return f.usage, f.err
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		usage     Usage
		size      int64
		canUpload bool
		nearLimit bool
	}{
		{"plenty of space", Usage{Used: 10 * mb, Limit: 500 * mb}, 10 * mb, true, false},
		{"exactly fills the limit", Usage{Used: 490 * mb, Limit: 500 * mb}, 10 * mb, true, true},
		{"one byte over", Usage{Used: 490 * mb, Limit: 500 * mb}, 10*mb + 1, false, true},
		{"at 80 percent is not near", Usage{Used: 390 * mb, Limit: 500 * mb}, 10 * mb, true, false},
		{"zero byte file", Usage{Used: 0, Limit: 500 * mb}, 0, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(&fakeSource{usage: tt.usage})
			r := c.Check(context.Background(), "user", tt.size)

			require.NoError(t, r.Err)
			assert.Equal(t, tt.canUpload, r.CanUpload)
			assert.Equal(t, tt.nearLimit, r.NearLimit)
			assert.Equal(t, tt.usage.Used, r.Used)
			assert.Equal(t, tt.usage.Limit, r.Limit)
		})
	}
}

func TestCheck_Percentage(t *testing.T) {
	c := NewChecker(&fakeSource{usage: Usage{Used: 490 * mb, Limit: 500 * mb}})
	r := c.Check(context.Background(), "user", 10*mb)

	assert.InDelta(t, 100.0, r.Percentage, 0.001)
	assert.Equal(t, 10*mb, r.Remaining)
}

func TestCheck_FailsClosed(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	r := NewChecker(src).Check(context.Background(), "user", 1)

	assert.False(t, r.CanUpload)
	assert.Error(t, r.Err)
	assert.Equal(t, 1, src.calls)
}

func TestCheck_NoLimitDenies(t *testing.T) {
	r := NewChecker(&fakeSource{usage: Usage{Used: 0, Limit: 0}}).Check(context.Background(), "user", 1)

	assert.False(t, r.CanUpload)
	assert.ErrorIs(t, r.Err, ErrNoLimit)
}

func TestCheck_NegativeSize(t *testing.T) {
	src := &fakeSource{usage: Usage{Limit: 10}}
	r := NewChecker(src).Check(context.Background(), "user", -1)

	assert.False(t, r.CanUpload)
	assert.ErrorIs(t, r.Err, ErrInvalidSize)
	assert.Zero(t, src.calls)
}
