package probe

import (
	"net"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/macwilam/netwatch/pkg/wire"
)

func TestRunTCPSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	m, err := Run(wire.TaskTCP, wire.TaskConfig{
		Name: "t", Type: wire.TaskTCP, TCP: &wire.TCPParams{Target: host, Port: port},
	}, 2*time.Second, "", 0)
	require.NoError(t, err)
	require.True(t, m.TCP.Success)
	require.NotNil(t, m.TCP.ConnectTimeMs)
}

func TestRunHTTPGetSuccess(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	m, err := Run(wire.TaskHTTPGet, wire.TaskConfig{
		Name: "t", Type: wire.TaskHTTPGet,
		HTTP: &wire.HTTPParams{URL: srv.URL, ExpectedStatus: 404},
	}, 2*time.Second, "", 0)
	require.NoError(t, err)
	require.True(t, m.HTTP.Success)
	require.Equal(t, 404, *m.HTTP.StatusCode)
}

func TestRunUnknownTaskType(t *testing.T) {
	_, err := Run(wire.TaskType("bogus"), wire.TaskConfig{Name: "t"}, time.Second, "", 0)
	require.Error(t, err)
}
