package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/agricare/internal/engine"
	"github.com/celerix-dev/agricare/internal/metrics"
)

func startRouter(t *testing.T, opts ...RouterOption) (*Router, string) {
	t.Helper()
	router := NewRouter(engine.NewMemStore(nil, nil), opts...)

	go router.Listen("0")
	require.Eventually(t, func() bool { return router.Addr() != nil }, 2*time.Second, 10*time.Millisecond,
		"server did not start in time")
	t.Cleanup(func() { router.Stop() })

	return router, fmt.Sprintf("127.0.0.1:%d", router.Addr().(*net.TCPAddr).Port)
}

type lineConn struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, addr string) *lineConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &lineConn{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *lineConn) send(cmd string) string {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\n", cmd)
	require.NoError(c.t, err)
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimSuffix(line, "\n")
}

func TestRouter_TCP_Commands(t *testing.T) {
	_, addr := startRouter(t)
	c := dial(t, addr)

	assert.Equal(t, "PONG", c.send("PING"))

	assert.Equal(t, "OK", c.send(`INSERT_AT cropEntries c1 {"cropType": "Rice", "landArea": 2}`))
	assert.Equal(t, `OK {"id":"c1","data":{"cropType":"Rice","landArea":2}}`, c.send("GET cropEntries c1"))

	assert.Equal(t, "OK", c.send(`MERGE cropEntries c1 {"status": "growing"}`))
	assert.Contains(t, c.send("GET cropEntries c1"), `"status":"growing"`)

	reply := c.send(`LIST cropEntries [{"field":"cropType","op":"==","value":"Rice"}]`)
	assert.True(t, strings.HasPrefix(reply, `OK [{"id":"c1"`), reply)
	assert.Equal(t, "OK []", c.send(`LIST cropEntries [{"field":"cropType","op":"==","value":"Wheat"}]`))

	assert.Equal(t, `OK ["cropEntries"]`, c.send("COLLECTIONS"))

	assert.Equal(t, "OK", c.send("REMOVE cropEntries c1"))
	assert.True(t, strings.HasPrefix(c.send("GET cropEntries c1"), "ERR not_found "))
	assert.Equal(t, "OK", c.send("REMOVE cropEntries c1"))
}

func TestRouter_InsertReturnsID(t *testing.T) {
	_, addr := startRouter(t)
	c := dial(t, addr)

	reply := c.send(`INSERT test_items {"name":"probe"}`)
	require.True(t, strings.HasPrefix(reply, `OK {"id":"`), reply)

	id := strings.TrimSuffix(strings.TrimPrefix(reply, `OK {"id":"`), `"}`)
	assert.Contains(t, c.send("GET test_items "+id), `"name":"probe"`)
}

func TestRouter_ServerTimestampAcrossTheWire(t *testing.T) {
	_, addr := startRouter(t)
	c := dial(t, addr)

	require.Equal(t, "OK", c.send(`INSERT_AT activityLogs a1 {"timestamp":{"$transform":"serverTimestamp"}}`))
	reply := c.send("GET activityLogs a1")
	assert.NotContains(t, reply, "$transform")
	assert.Regexp(t, `"timestamp":"\d{4}-\d{2}-\d{2}T`, reply)
}

func TestRouter_MergeMissingIsNotFound(t *testing.T) {
	_, addr := startRouter(t)
	c := dial(t, addr)

	assert.True(t, strings.HasPrefix(c.send(`MERGE cropEntries nope {"a":1}`), "ERR not_found "))
}

func TestRouter_MalformedCommands(t *testing.T) {
	m := metrics.Nop()
	_, addr := startRouter(t, WithMetrics(m))
	c := dial(t, addr)

	for _, cmd := range []string{
		"GET cropEntries",
		`INSERT_AT cropEntries c1 {invalid}`,
		"INSERT cropEntries",
		`LIST cropEntries [{"field":"x","op":"~","value":1}]`,
		`LIST cropEntries not-json`,
	} {
		assert.True(t, strings.HasPrefix(c.send(cmd), "ERR invalid "), cmd)
	}
	assert.True(t, strings.HasPrefix(c.send("FLY me"), "ERR invalid "))

	// The connection stays usable after errors.
	assert.Equal(t, "PONG", c.send("PING"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TCPCommands.WithLabelValues("UNKNOWN", "invalid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TCPCommands.WithLabelValues("LIST", "invalid")))
}

func TestRouter_ConcurrentConnections(t *testing.T) {
	_, addr := startRouter(t)

	conns := make([]*lineConn, 0, 20)
	for i := 0; i < 20; i++ {
		conns = append(conns, dial(t, addr))
	}
	for i, c := range conns {
		assert.Equal(t, "OK", c.send(fmt.Sprintf(`INSERT_AT test_items i%d {"name":"n%d"}`, i, i)))
	}
	reply := conns[0].send("LIST test_items")
	assert.Equal(t, 20, strings.Count(reply, `"name"`))
}

func TestRouter_StopEndsListen(t *testing.T) {
	router := NewRouter(engine.NewMemStore(nil, nil))
	done := make(chan error, 1)
	go func() { done <- router.Listen("0") }()
	require.Eventually(t, func() bool { return router.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, router.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after Stop")
	}
}
