package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/minderbuild/internal/foundation/errors"
)

type fakeConn struct {
	subject  string
	data     []byte
	pubErr   error
	flushErr error
	closed   bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.subject, f.data = subj, data
	return f.pubErr
}
func (f *fakeConn) FlushWithContext(context.Context) error { return f.flushErr }
func (f *fakeConn) Close()                                 { f.closed = true }

func TestNATSPublisher_PublishesJSON(t *testing.T) {
	fc := &fakeConn{}
	p := newNATSPublisher(fc, "minderbuild.bundle.built")

	err := p.Publish(context.Background(), BuildEvent{BuildID: "b1", Entry: "expose-editor", Digest: "abc", Modules: 3})
	require.NoError(t, err)
	assert.Equal(t, "minderbuild.bundle.built", fc.subject)

	var got BuildEvent
	require.NoError(t, json.Unmarshal(fc.data, &got))
	assert.Equal(t, "b1", got.BuildID)
	assert.Equal(t, 3, got.Modules)
	assert.False(t, got.Timestamp.IsZero())

	require.NoError(t, p.Close())
	assert.True(t, fc.closed)
}

func TestNATSPublisher_Errors(t *testing.T) {
	boom := errors.New("boom")

	err := newNATSPublisher(&fakeConn{pubErr: boom}, "s").Publish(context.Background(), BuildEvent{})
	require.ErrorIs(t, err, boom)

	err = newNATSPublisher(&fakeConn{flushErr: boom}, "s").Publish(context.Background(), BuildEvent{})
	require.ErrorIs(t, err, boom)
}

func TestConnectNATS_Unreachable(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", "s")
	require.Error(t, err)
	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CategoryNetwork, ce.Category())
	assert.Equal(t, ferrors.RetryBackoff, ce.RetryStrategy())
	assert.Equal(t, "nats://127.0.0.1:1", ce.Context()["url"])
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	require.NoError(t, p.Publish(context.Background(), BuildEvent{}))
	require.NoError(t, p.Close())
}
