package cache

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// respServer answers the handful of commands RedisCache sends. HELLO is
// rejected so the client falls back to RESP2.
type respServer struct {
	listener net.Listener

	mu   sync.Mutex
	data map[string]string
	sets [][]string
}

func startRESPServer(t *testing.T) *respServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &respServer{listener: listener, data: make(map[string]string)}
	t.Cleanup(func() { _ = listener.Close() })
	go server.serve()
	return server
}

func (s *respServer) addr() string {
	return s.listener.Addr().String()
}

func (s *respServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *respServer) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		if _, err := io.WriteString(conn, s.reply(args)); err != nil {
			return
		}
	}
}

func (s *respServer) reply(args []string) string {
	if len(args) == 0 {
		return "-ERR empty command\r\n"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "CLIENT", "SELECT", "AUTH":
		return "+OK\r\n"
	case "SET":
		s.data[args[1]] = args[2]
		s.sets = append(s.sets, args)
		return "+OK\r\n"
	case "GET":
		value, ok := s.data[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(value), value)
	default:
		return fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0])
	}
}

func (s *respServer) lastSet() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sets) == 0 {
		return nil
	}
	return s.sets[len(s.sets)-1]
}

func readCommand(reader *bufio.Reader) ([]string, error) {
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	header = strings.TrimRight(header, "\r\n")
	if !strings.HasPrefix(header, "*") {
		return nil, fmt.Errorf("unexpected frame %q", header)
	}
	count, err := strconv.Atoi(header[1:])
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimRight(line, "\r\n")[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestNewRedisCacheRequiresAddr(t *testing.T) {
	_, err := NewRedisCache(context.Background(), RedisConfig{})
	assert.ErrorContains(t, err, "redis address is required")
}

func TestNewRedisCacheFailsWhenUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = NewRedisCache(ctx, RedisConfig{Addr: addr})
	assert.ErrorContains(t, err, "ping redis")
}

func TestRedisCacheMissThenHit(t *testing.T) {
	server := startRESPServer(t)
	ctx := context.Background()

	c, err := NewRedisCache(ctx, RedisConfig{Addr: server.addr(), TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	value, ok, err := c.Get(ctx, "describe:abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)

	require.NoError(t, c.Set(ctx, "describe:abc", []byte("sunset over a quiet beach")))
	set := server.lastSet()
	require.GreaterOrEqual(t, len(set), 5)
	assert.Equal(t, "organizer:describe:abc", set[1])
	assert.Equal(t, []string{"ex", "3600"}, []string{strings.ToLower(set[3]), set[4]})

	value, ok, err = c.Get(ctx, "describe:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sunset over a quiet beach", string(value))
}

func TestRedisCacheClosedClientReportsErrors(t *testing.T) {
	server := startRESPServer(t)
	ctx := context.Background()

	c, err := NewRedisCache(ctx, RedisConfig{Addr: server.addr(), Prefix: "test:"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, ok, err := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "redis get")
	assert.ErrorContains(t, c.Set(ctx, "k", []byte("v")), "redis set")
}
