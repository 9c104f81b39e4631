package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

func TestRecorderTracksHeldLocks(t *testing.T) {
	r := NewRecorder()
	before := testutil.ToFloat64(LocksHeld)

	r.RecordLockState(rowfiles.LockPending)
	r.RecordLockState(rowfiles.LockHeld)
	assert.Equal(t, before+1, testutil.ToFloat64(LocksHeld))

	r.RecordLockState(rowfiles.LockReleased)
	assert.Equal(t, before, testutil.ToFloat64(LocksHeld))
}

func TestRecorderCountsOnlySuccessfulBytes(t *testing.T) {
	r := NewRecorder()
	bytesBefore := testutil.ToFloat64(TransferBytesTotal.WithLabelValues("upload"))
	errorsBefore := testutil.ToFloat64(TransfersTotal.WithLabelValues("upload", "error"))

	r.RecordTransfer("upload", "ok", 2, 100)
	r.RecordTransfer("upload", "error", 1, 50)
	r.RecordLockWait("acquired", 10*time.Millisecond)

	assert.Equal(t, bytesBefore+100, testutil.ToFloat64(TransferBytesTotal.WithLabelValues("upload")))
	assert.Equal(t, errorsBefore+1, testutil.ToFloat64(TransfersTotal.WithLabelValues("upload", "error")))
}
