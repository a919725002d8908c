package server

import (
	"bytes"
	"context"
	"math/rand"
	goSync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/fswatch"
	"github.com/sidkik/mirrorsync/pkg/proto"
	"github.com/sidkik/mirrorsync/pkg/sync"
	"github.com/sidkik/mirrorsync/pkg/transport"
)

// countingConn records the events sent over a connection.
type countingConn struct {
	transport.Conn

	lock   goSync.Mutex
	counts map[string]int
}

func newCountingConn(conn transport.Conn) *countingConn {
	return &countingConn{Conn: conn, counts: map[string]int{}}
}

func (c *countingConn) Send(event string, payload interface{}) error {
	c.lock.Lock()
	c.counts[event]++
	c.lock.Unlock()
	return c.Conn.Send(event, payload)
}

func (c *countingConn) count(event string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.counts[event]
}

func (c *countingConn) total() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	var total int
	for _, n := range c.counts {
		total += n
	}
	return total
}

func newMirrorFs(t *testing.T) afero.Fs {
	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll("/mirror", 0755))
	return afero.NewBasePathFs(mem, "/mirror")
}

func pipe(t *testing.T) (transport.Conn, transport.Conn) {
	codec, err := transport.GetCodec(transport.CodecJSON)
	require.NoError(t, err)
	return transport.Pipe(codec)
}

func TestAdmitRejectsSecondClient(t *testing.T) {
	srv := New(context.Background(), newMirrorFs(t), sync.Config{}, nil, sync.Options{})

	firstServer, firstClient := pipe(t)
	first, ok := srv.Admit(firstServer)
	require.True(t, ok)
	defer first.Close()

	secondServer, secondClient := pipe(t)
	_, ok = srv.Admit(secondServer)
	assert.False(t, ok)

	msg, err := secondClient.Receive()
	require.NoError(t, err)
	assert.Equal(t, proto.EventConnectionRejected, msg.Event)

	var rejected proto.ConnectionRejected
	require.NoError(t, msg.Bind(&rejected))
	assert.Equal(t, rejectedMessage, rejected.Message)

	_, err = secondClient.Receive()
	assert.Equal(t, errors.ErrConnectionClosed, err)

	// The active session is untouched.
	assert.Equal(t, first, srv.Session())
	assert.True(t, first.Connected())
	assert.NoError(t, firstClient.Send(proto.EventSyncStart, proto.SyncControl{}))

	// Once the first client leaves, a new one is admitted.
	first.Close()
	assert.Nil(t, srv.Session())

	thirdServer, _ := pipe(t)
	third, ok := srv.Admit(thirdServer)
	require.True(t, ok)
	third.Close()
}

func TestFullSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverFs := newMirrorFs(t)
	big := make([]byte, 600*1024)
	rand.New(rand.NewSource(1)).Read(big)
	files := map[string][]byte{
		"a.txt":     []byte("hi"),
		"sub/b.txt": big,
	}
	require.NoError(t, serverFs.MkdirAll("sub", 0755))
	for path, contents := range files {
		require.NoError(t, afero.WriteFile(serverFs, path, contents, 0644))
	}

	srv := New(ctx, serverFs, sync.Config{}, nil, sync.Options{})
	serverConn, clientConn := pipe(t)
	counted := newCountingConn(serverConn)
	sess, ok := srv.Admit(counted)
	require.True(t, ok)
	go sess.Run(ctx)

	clientFs := newMirrorFs(t)
	client := sync.NewSession(clientConn, clientFs, sync.NewPolicy(sync.Config{}), nil, sync.Options{})
	completed := make(chan struct{})
	client.Handle(proto.EventSyncComplete, func(transport.Message) error {
		close(completed)
		return nil
	})
	go client.Run(ctx)
	defer client.Close()

	require.NoError(t, client.Send(proto.EventSyncAll, proto.SyncControl{}))

	select {
	case <-completed:
	case <-time.After(10 * time.Second):
		t.Fatal("full sync didn't complete")
	}

	for path, contents := range files {
		received, err := afero.ReadFile(clientFs, path)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(contents, received), path)
	}
	assert.Equal(t, 1, counted.count(proto.EventSyncStart))
	assert.Equal(t, 1, counted.count(proto.EventChunkStart))
	assert.True(t, counted.count(proto.EventChunkData) >= 3)
	assert.Equal(t, 1, counted.count(proto.EventChunkComplete))
	assert.Equal(t, 1, counted.count(proto.EventUpdate))
	assert.Equal(t, 0, counted.count(proto.EventSyncError))
}

func TestConfigureFiltersPushes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	root := newMirrorFs(t)
	require.NoError(t, afero.WriteFile(root, "scratch.tmp", []byte("x"), 0644))
	require.NoError(t, afero.WriteFile(root, "notes.txt", []byte("x"), 0644))

	srv := New(context.Background(), root, sync.Config{}, nil, sync.Options{Clock: clock})
	serverConn, clientConn := pipe(t)
	counted := newCountingConn(serverConn)
	sess, ok := srv.Admit(counted)
	require.True(t, ok)
	go sess.Run(context.Background())
	defer sess.Close()

	enabled := true
	require.NoError(t, clientConn.Send(proto.EventConfigure, proto.Configure{
		EnableFileSizeLimit: &enabled,
		PathRegex:           []string{`\.tmp$`},
	}))
	assert.Eventually(t, func() bool {
		_, ok := sess.Policy().CheckPath("scratch.tmp")
		return !ok
	}, time.Second, 5*time.Millisecond)

	srv.HandleLocalChange(fswatch.Event{Kind: fswatch.Change, Path: "scratch.tmp"})
	clock.BlockUntil(1)
	clock.Advance(sync.DebounceWindow)
	assert.Eventually(t, func() bool {
		return sess.Stats().PendingChanges == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, counted.total())

	// Unfiltered paths are still pushed.
	srv.HandleLocalChange(fswatch.Event{Kind: fswatch.Change, Path: "notes.txt"})
	clock.BlockUntil(1)
	clock.Advance(sync.DebounceWindow)

	msg, err := clientConn.Receive()
	require.NoError(t, err)
	assert.Equal(t, proto.EventUpdate, msg.Event)
	var update proto.Update
	require.NoError(t, msg.Bind(&update))
	assert.Equal(t, "notes.txt", update.Path)
}

func TestConfigureClearsRules(t *testing.T) {
	srv := New(context.Background(), newMirrorFs(t), sync.Config{}, nil, sync.Options{})
	serverConn, clientConn := pipe(t)
	sess, ok := srv.Admit(serverConn)
	require.True(t, ok)
	go sess.Run(context.Background())
	defer sess.Close()

	require.NoError(t, clientConn.Send(proto.EventConfigure,
		sync.Config{PathRegex: []string{`\.tmp$`}}.Configure()))
	assert.Eventually(t, func() bool {
		_, ok := sess.Policy().CheckPath("x.tmp")
		return !ok
	}, time.Second, 5*time.Millisecond)

	// A client with no rules left sends an empty list, which replaces the
	// old rules.
	require.NoError(t, clientConn.Send(proto.EventConfigure, sync.Config{}.Configure()))
	assert.Eventually(t, func() bool {
		_, ok := sess.Policy().CheckPath("x.tmp")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, sess.Policy().Remote().PathRegex)

	// Leaving the rules out keeps them.
	require.NoError(t, clientConn.Send(proto.EventConfigure,
		sync.Config{PathRegex: []string{`\.log$`}}.Configure()))
	limit := int64(5)
	require.NoError(t, clientConn.Send(proto.EventConfigure, proto.Configure{MaxFileSize: &limit}))
	assert.Eventually(t, func() bool {
		return sess.Policy().Remote().MaxFileSize == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`\.log$`}, sess.Policy().Remote().PathRegex)
}

func TestHandleLocalChange(t *testing.T) {
	clock := clockwork.NewFakeClock()
	root := newMirrorFs(t)
	srv := New(context.Background(), root, sync.Config{}, nil, sync.Options{Clock: clock})

	// Nothing happens without a client.
	srv.HandleLocalChange(fswatch.Event{Kind: fswatch.Add, Path: "a.txt"})

	serverConn, clientConn := pipe(t)
	sess, ok := srv.Admit(serverConn)
	require.True(t, ok)
	go sess.Run(context.Background())
	defer sess.Close()

	// A burst of changes to one path is pushed once, with the final
	// contents.
	require.NoError(t, afero.WriteFile(root, "a.txt", []byte("one"), 0644))
	srv.HandleLocalChange(fswatch.Event{Kind: fswatch.Add, Path: "a.txt"})
	require.NoError(t, afero.WriteFile(root, "a.txt", []byte("two"), 0644))
	srv.HandleLocalChange(fswatch.Event{Kind: fswatch.Change, Path: "a.txt"})
	assert.Equal(t, 1, sess.Stats().PendingChanges)

	clock.BlockUntil(1)
	clock.Advance(sync.DebounceWindow)

	msg, err := clientConn.Receive()
	require.NoError(t, err)
	require.Equal(t, proto.EventUpdate, msg.Event)
	var update proto.Update
	require.NoError(t, msg.Bind(&update))
	assert.Equal(t, "a.txt", update.Path)
	assert.Equal(t, "dHdv", update.Content)

	// Writes made on behalf of the client aren't echoed back.
	require.NoError(t, clientConn.Send(proto.EventUpdate, proto.Update{
		Path: "echo.txt", Content: "aGk=", Encoding: proto.EncodingBase64}))
	assert.Eventually(t, func() bool {
		return sess.Guarded("echo.txt")
	}, time.Second, 5*time.Millisecond)
	srv.HandleLocalChange(fswatch.Event{Kind: fswatch.Add, Path: "echo.txt"})
	assert.Equal(t, 0, sess.Stats().PendingChanges)

	// Ignored paths are dropped.
	srv.HandleLocalChange(fswatch.Event{Kind: fswatch.Add, Path: "dir/.DS_Store"})
	assert.Equal(t, 0, sess.Stats().PendingChanges)

	// Removals are pushed as deletes.
	srv.HandleLocalChange(fswatch.Event{Kind: fswatch.RemoveDir, Path: "gone"})
	clock.BlockUntil(2)
	clock.Advance(sync.DebounceWindow)

	msg, err = clientConn.Receive()
	require.NoError(t, err)
	require.Equal(t, proto.EventDelete, msg.Event)
	var del proto.Delete
	require.NoError(t, msg.Bind(&del))
	assert.Equal(t, proto.Delete{Path: "gone", IsDir: true}, del)
}
