package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeExtender struct {
	extends  int32
	failFrom int32
}

func (f *fakeExtender) ExtendContext(context.Context) (bool, error) {
	n := atomic.AddInt32(&f.extends, 1)
	if f.failFrom > 0 && n >= f.failFrom {
		return false, errors.New("lock already expired")
	}
	return true, nil
}

func (f *fakeExtender) Name() string { return "rowfiles:default/plot/etag-1/row-1" }

func TestLeaseExtendsUntilStopped(t *testing.T) {
	m := &fakeExtender{}
	l := startLease(m, 5*time.Millisecond, zerolog.Nop())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&m.extends) >= 3 }, time.Second, time.Millisecond)
	l.Stop()
	stopped := atomic.LoadInt32(&m.extends)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&m.extends))
	select {
	case <-l.Done():
		t.Fatal("lease reported lost after a clean stop")
	default:
	}
	l.Stop()
}

func TestLeaseReportsFailedExtension(t *testing.T) {
	m := &fakeExtender{failFrom: 2}
	l := startLease(m, 5*time.Millisecond, zerolog.Nop())
	defer l.Stop()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("lease was not reported lost")
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&m.extends))
}

func TestLeaseInterval(t *testing.T) {
	assert.Equal(t, 20*time.Second, leaseInterval(time.Minute))
	assert.Positive(t, leaseInterval(0))
}
