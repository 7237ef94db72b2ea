package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoseg/internal/engine"
	"videoseg/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, numFrames int) (*session.Coordinator, *engine.Fake) {
	t.Helper()
	fake := engine.NewFake(numFrames)
	return session.New(fake, discardLogger(), nil), fake
}

func createSession(t *testing.T, c *session.Coordinator, id string, numFrames int) session.Record {
	t.Helper()
	record, err := c.Create(context.Background(), session.Record{
		SessionID: id,
		NumFrames: numFrames,
		Width:     640,
		Height:    480,
	})
	require.NoError(t, err)
	return record
}

func errCode(t *testing.T, err error) session.Code {
	t.Helper()
	var typed *session.Error
	require.ErrorAs(t, err, &typed)
	return typed.Code
}

func TestCreate_replacesActiveSession(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	ctx := context.Background()

	createSession(t, c, "s1", 4)
	createSession(t, c, "s2", 4)

	_, err := c.PromptText(ctx, "s1", 0, "a dog", true)
	assert.Equal(t, session.CodeSessionNotFound, errCode(t, err))

	_, err = c.PromptText(ctx, "s2", 0, "a dog", true)
	assert.NoError(t, err)
}

func TestCreate_teardownCallbackRuns(t *testing.T) {
	fake := engine.NewFake(4)
	var tornDown []string
	c := session.New(fake, discardLogger(), func(r session.Record) {
		tornDown = append(tornDown, r.SessionID)
	})

	createSession(t, c, "s1", 4)
	createSession(t, c, "s2", 4)
	require.NoError(t, c.Close(context.Background(), "s2"))

	assert.Equal(t, []string{"s1", "s2"}, tornDown)
	assert.False(t, c.HasActive())
}

func TestPromptText_populatesCacheAndRegistry(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)

	res, err := c.PromptText(context.Background(), "s1", 2, "a cat", true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FrameIndex)
	require.Len(t, res.Objects, 1)

	cached, ok := c.FrameObjects("s1", 2)
	require.True(t, ok)
	assert.Equal(t, res.Objects, cached)

	objects, err := c.Objects("s1")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, res.Objects[0].ObjID, objects[0].ObjID)
	assert.True(t, objects[0].Visible)
	assert.Equal(t, "detected_object", objects[0].ClassName)
}

func TestPromptText_validation(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	_, err := c.PromptText(ctx, "s1", 7, "a cat", true)
	assert.Equal(t, session.CodeInvalidFrameIndex, errCode(t, err))

	_, err = c.PromptText(ctx, "s1", -1, "a cat", true)
	assert.Equal(t, session.CodeInvalidFrameIndex, errCode(t, err))

	_, err = c.PromptText(ctx, "s1", 0, "   ", true)
	assert.Equal(t, session.CodeBadRequest, errCode(t, err))
}

func TestPromptClicks_validation(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	_, err := c.PromptClicks(ctx, "s1", 0, -1, nil)
	assert.Equal(t, session.CodeBadRequest, errCode(t, err))

	_, err = c.PromptClicks(ctx, "s1", 0, -1, []session.Point{{X: 1.5, Y: 0.5, Label: 1}})
	assert.Equal(t, session.CodeInvalidPoint, errCode(t, err))

	_, err = c.PromptClicks(ctx, "s1", 0, -1, []session.Point{{X: 0.5, Y: 0.5, Label: 2}})
	assert.Equal(t, session.CodeInvalidPoint, errCode(t, err))
}

func TestPromptClicks_historyAccumulates(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	obj, err := c.CreateObject(ctx, "s1")
	require.NoError(t, err)

	// The fake's score grows with the replayed click count, so accumulation
	// across calls is observable.
	res1, err := c.PromptClicks(ctx, "s1", 1, obj.ObjID, []session.Point{{X: 0.5, Y: 0.5, Label: 1}})
	require.NoError(t, err)
	res2, err := c.PromptClicks(ctx, "s1", 1, obj.ObjID, []session.Point{{X: 0.6, Y: 0.6, Label: 0}})
	require.NoError(t, err)
	assert.Greater(t, res2.Objects[0].Score, res1.Objects[0].Score)

	// A different frame starts its own history.
	res3, err := c.PromptClicks(ctx, "s1", 2, obj.ObjID, []session.Point{{X: 0.5, Y: 0.5, Label: 1}})
	require.NoError(t, err)
	assert.Equal(t, res1.Objects[0].Score, res3.Objects[0].Score)
}

func TestPromptText_resetFirstClearsState(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	_, err := c.PromptText(ctx, "s1", 0, "a cat", true)
	require.NoError(t, err)
	_, err = c.PromptText(ctx, "s1", 1, "a dog", false)
	require.NoError(t, err)

	objects, err := c.Objects("s1")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	_, err = c.PromptText(ctx, "s1", 2, "a bird", true)
	require.NoError(t, err)

	objects, err = c.Objects("s1")
	require.NoError(t, err)
	assert.Len(t, objects, 1)

	_, ok := c.FrameObjects("s1", 0)
	assert.False(t, ok)
	_, ok = c.FrameObjects("s1", 2)
	assert.True(t, ok)
}

func TestFrameCache_lastWriteWinsPerFrame(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	first, err := c.PromptText(ctx, "s1", 0, "a cat", true)
	require.NoError(t, err)
	second, err := c.PromptText(ctx, "s1", 0, "a dog", false)
	require.NoError(t, err)

	cached, ok := c.FrameObjects("s1", 0)
	require.True(t, ok)
	require.Len(t, cached, 1)
	assert.NotEqual(t, first.Objects[0].ObjID, cached[0].ObjID)
	assert.Equal(t, second.Objects[0].ObjID, cached[0].ObjID)
}

func TestCreateObject_idsNeverReused(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	a, err := c.CreateObject(ctx, "s1")
	require.NoError(t, err)
	b, err := c.CreateObject(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, -1, a.ObjID)
	assert.Equal(t, -2, b.ObjID)
	assert.True(t, a.Manual())

	// The manual counter survives a reset.
	require.NoError(t, c.Reset(ctx, "s1"))
	d, err := c.CreateObject(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, -3, d.ObjID)
}

func TestRemoveObject_purgesEverywhere(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	obj, err := c.CreateObject(ctx, "s1")
	require.NoError(t, err)
	_, err = c.PromptClicks(ctx, "s1", 1, obj.ObjID, []session.Point{{X: 0.5, Y: 0.5, Label: 1}})
	require.NoError(t, err)

	require.NoError(t, c.RemoveObject(ctx, "s1", obj.ObjID))

	cached, ok := c.FrameObjects("s1", 1)
	require.True(t, ok)
	assert.Empty(t, cached)

	objects, err := c.Objects("s1")
	require.NoError(t, err)
	assert.Empty(t, objects)

	// A fresh click after removal starts from an empty history.
	res, err := c.PromptClicks(ctx, "s1", 1, obj.ObjID, []session.Point{{X: 0.5, Y: 0.5, Label: 1}})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, res.Objects[0].Score, 1e-9)

	// Removing an id the engine no longer knows is harmless.
	require.NoError(t, c.RemoveObject(ctx, "s1", 42))
}

func TestEngineFailure_doesNotMutateCache(t *testing.T) {
	c, fake := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	_, err := c.PromptText(ctx, "s1", 0, "a cat", true)
	require.NoError(t, err)

	fake.TextErr = errors.New("cuda out of memory")
	_, err = c.PromptText(ctx, "s1", 1, "a dog", false)
	assert.Equal(t, session.CodeEngineError, errCode(t, err))

	_, ok := c.FrameObjects("s1", 1)
	assert.False(t, ok)
	_, ok = c.FrameObjects("s1", 0)
	assert.True(t, ok)
}

func TestRenameAndVisibility(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	obj, err := c.CreateObject(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, c.RenameObject("s1", obj.ObjID, "class_name", "person"))
	require.NoError(t, c.RenameObject("s1", obj.ObjID, "instance_name", "runner"))
	require.NoError(t, c.SetObjectVisible("s1", obj.ObjID, false))

	objects, err := c.Objects("s1")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "person", objects[0].ClassName)
	assert.Equal(t, "runner", objects[0].InstanceName)
	assert.False(t, objects[0].Visible)

	err = c.RenameObject("s1", obj.ObjID, "color", "#fff")
	assert.Equal(t, session.CodeBadRequest, errCode(t, err))
	err = c.RenameObject("s1", 99, "class_name", "x")
	assert.Equal(t, session.CodeBadRequest, errCode(t, err))
}

func TestPropagation_streamsAndCaches(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	_, err := c.PromptText(ctx, "s1", 2, "a cat", true)
	require.NoError(t, err)

	start := 2
	prop, err := c.StartPropagation(ctx, "s1", session.DirectionBoth, &start)
	require.NoError(t, err)
	defer prop.Close()

	var order []int
	for {
		res, ok, err := prop.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, res.FrameIndex)
	}
	// Backward pass first, then forward from start+1.
	assert.Equal(t, []int{2, 1, 0, 3}, order)
	assert.False(t, prop.Superseded())

	for i := 0; i < 4; i++ {
		_, ok := c.FrameObjects("s1", i)
		assert.True(t, ok, "frame %d should be cached", i)
	}
}

func TestPropagation_supersededStopsSilently(t *testing.T) {
	c, _ := newTestCoordinator(t, 6)
	createSession(t, c, "s1", 6)
	ctx := context.Background()

	prop, err := c.StartPropagation(ctx, "s1", session.DirectionForward, nil)
	require.NoError(t, err)
	defer prop.Close()

	_, ok, err := prop.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Reset bumps the generation; the in-flight propagation must stop
	// without applying anything further.
	require.NoError(t, c.Reset(ctx, "s1"))

	_, ok, err = prop.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, prop.Superseded())

	_, cached := c.FrameObjects("s1", 1)
	assert.False(t, cached)
}

func TestPropagation_newStartSupersedesOld(t *testing.T) {
	c, _ := newTestCoordinator(t, 6)
	createSession(t, c, "s1", 6)
	ctx := context.Background()

	old, err := c.StartPropagation(ctx, "s1", session.DirectionForward, nil)
	require.NoError(t, err)
	defer old.Close()

	fresh, err := c.StartPropagation(ctx, "s1", session.DirectionForward, nil)
	require.NoError(t, err)
	defer fresh.Close()

	_, ok, err := old.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, old.Superseded())

	_, ok, err = fresh.Next(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPropagation_invalidStartRejectedBeforeBump(t *testing.T) {
	c, _ := newTestCoordinator(t, 6)
	createSession(t, c, "s1", 6)
	ctx := context.Background()

	running, err := c.StartPropagation(ctx, "s1", session.DirectionForward, nil)
	require.NoError(t, err)
	defer running.Close()

	bad := 99
	_, err = c.StartPropagation(ctx, "s1", session.DirectionForward, &bad)
	assert.Equal(t, session.CodeInvalidFrameIndex, errCode(t, err))

	// The rejected start must not have cancelled the running propagation.
	_, ok, err := running.Next(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, running.Superseded())
}

func TestPropagation_midStreamEngineError(t *testing.T) {
	c, fake := newTestCoordinator(t, 6)
	createSession(t, c, "s1", 6)
	ctx := context.Background()

	fake.StreamErr = errors.New("tracker diverged")
	prop, err := c.StartPropagation(ctx, "s1", session.DirectionForward, nil)
	require.NoError(t, err)
	defer prop.Close()

	_, ok, err := prop.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = prop.Next(ctx)
	assert.Equal(t, session.CodeEngineError, errCode(t, err))
}

func TestClose_thenOperationsFail(t *testing.T) {
	c, _ := newTestCoordinator(t, 4)
	createSession(t, c, "s1", 4)
	ctx := context.Background()

	require.NoError(t, c.Close(ctx, "s1"))

	err := c.Close(ctx, "s1")
	assert.Equal(t, session.CodeSessionNotFound, errCode(t, err))
	_, err = c.Objects("s1")
	assert.Equal(t, session.CodeSessionNotFound, errCode(t, err))
}
