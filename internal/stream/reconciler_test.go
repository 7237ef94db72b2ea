package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoseg/internal/session"
)

func frameMsg(frameIndex int, objIDs ...int) FrameMessage {
	objects := make([]session.ObjectOutput, 0, len(objIDs))
	for _, id := range objIDs {
		objects = append(objects, session.ObjectOutput{ObjID: id, Score: 0.9})
	}
	return FrameMessage{Type: TypePropagationFrame, FrameIndex: frameIndex, Objects: objects}
}

func TestReconciler_framesOverwriteAndProgress(t *testing.T) {
	r := NewReconciler(4)
	r.Begin()
	assert.True(t, r.Propagating())

	r.Apply(frameMsg(0, 1))
	r.Apply(frameMsg(1, 1, 2))
	completed, total := r.Progress()
	assert.Equal(t, 2, completed)
	assert.Equal(t, 4, total)

	// Reapplying a frame is idempotent for progress and replaces the entry.
	r.Apply(frameMsg(1, 2))
	completed, _ = r.Progress()
	assert.Equal(t, 2, completed)
	objects, ok := r.FrameObjects(1)
	require.True(t, ok)
	require.Len(t, objects, 1)
	assert.Equal(t, 2, objects[0].ObjID)

	// New obj ids get lazily registered.
	assert.Equal(t, 2, r.Registry().Len())
}

func TestReconciler_doneFreezesProgress(t *testing.T) {
	r := NewReconciler(4)
	r.Begin()
	r.Apply(frameMsg(0, 1))
	r.Apply(DoneMessage{Type: TypePropagationDone})

	assert.False(t, r.Propagating())
	completed, total := r.Progress()
	assert.Equal(t, 4, completed)
	assert.Equal(t, 4, total)
}

func TestReconciler_beginRestartsProgressKeepsFrames(t *testing.T) {
	r := NewReconciler(4)
	r.Begin()
	r.Apply(frameMsg(0, 1))
	r.Apply(DoneMessage{Type: TypePropagationDone})

	r.Begin()
	completed, _ := r.Progress()
	assert.Equal(t, 0, completed)

	// Prior results survive until overwritten.
	_, ok := r.FrameObjects(0)
	assert.True(t, ok)
}

func TestReconciler_errorClearsProgressAndRecords(t *testing.T) {
	r := NewReconciler(4)
	r.Begin()
	r.Apply(frameMsg(0, 1))
	r.Apply(ErrorMessage{Type: TypeError, Code: session.CodeEngineError, Message: "boom"})

	assert.False(t, r.Propagating())
	completed, _ := r.Progress()
	assert.Equal(t, 0, completed)

	errs := r.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, session.CodeEngineError, errs[0].Code)
}

func TestReconciler_disconnectedRecordsTransportClosed(t *testing.T) {
	r := NewReconciler(4)
	r.Begin()
	r.Disconnected("connection reset")

	assert.False(t, r.Propagating())
	errs := r.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, session.CodeTransportClosed, errs[0].Code)
	assert.Equal(t, "connection reset", errs[0].Details)
}

func TestReconciler_errorHistoryCapped(t *testing.T) {
	r := NewReconciler(4)
	for i := 0; i < maxErrorHistory+5; i++ {
		r.Apply(ErrorMessage{Type: TypeError, Code: session.CodeEngineError, Message: fmt.Sprintf("e%d", i)})
	}
	errs := r.Errors()
	require.Len(t, errs, maxErrorHistory)
	assert.Equal(t, "e5", errs[0].Message)
	assert.Equal(t, fmt.Sprintf("e%d", maxErrorHistory+4), errs[len(errs)-1].Message)
}

func TestReconciler_outOfRangeFrameCachedButNotCounted(t *testing.T) {
	r := NewReconciler(2)
	r.Begin()
	r.Apply(frameMsg(9, 1))

	completed, _ := r.Progress()
	assert.Equal(t, 0, completed)
	_, ok := r.FrameObjects(9)
	assert.True(t, ok)
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"propagation_frame","frame_index":3,"objects":[{"obj_id":1,"score":0.9,"bbox_xywh":[0,0,1,1],"mask_rle":{"size":[2,2],"counts":"04"}}]}`))
	require.NoError(t, err)
	frame, ok := msg.(FrameMessage)
	require.True(t, ok)
	assert.Equal(t, 3, frame.FrameIndex)
	require.Len(t, frame.Objects, 1)
	assert.Equal(t, "04", frame.Objects[0].MaskRLE.Counts)

	msg, err = Decode([]byte(`{"type":"propagation_done"}`))
	require.NoError(t, err)
	_, ok = msg.(DoneMessage)
	assert.True(t, ok)

	msg, err = Decode([]byte(`{"type":"error","code":"MODEL_RUNTIME_ERROR","message":"boom"}`))
	require.NoError(t, err)
	errMsg, ok := msg.(ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, session.CodeEngineError, errMsg.Code)

	_, err = Decode([]byte(`{"type":"mystery"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestPromptQueue_fifoAndClose(t *testing.T) {
	q := NewPromptQueue(8)

	var order []int
	var dones []<-chan struct{}
	for i := 0; i < 5; i++ {
		i := i
		done, err := q.Submit(func() { order = append(order, i) })
		require.NoError(t, err)
		dones = append(dones, done)
	}
	for _, done := range dones {
		<-done
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)

	q.Close()
	_, err := q.Submit(func() {})
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Closing twice is safe.
	q.Close()
}
