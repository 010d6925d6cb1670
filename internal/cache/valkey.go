package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyProvider implements Provider over RESP2. Each command uses a fresh
// connection, so the provider holds no socket state between calls.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider validates cfg and pings the server so misconfiguration
// shows up at startup rather than on the first trace lookup.
func NewValkeyProvider(ctx context.Context, cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	applyValkeyDefaults(&cfg)
	p := &ValkeyProvider{cfg: cfg}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	reply, err := p.do(pingCtx, "PING")
	if err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	if reply.kind != '+' || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("valkey ping: unexpected reply %q", reply.data)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", p.key(key))
	if err != nil {
		return nil, err
	}
	switch reply.kind {
	case '$':
		if reply.null {
			return nil, ErrCacheMiss
		}
		return reply.data, nil
	default:
		return nil, fmt.Errorf("valkey GET: unexpected reply type %q", reply.kind)
	}
}

// Set stores value with a millisecond TTL when ttl > 0.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{p.key(key), string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	reply, err := p.do(ctx, "SET", args...)
	if err != nil {
		return err
	}
	if reply.kind != '+' || string(reply.data) != "OK" {
		return fmt.Errorf("valkey SET: unexpected reply %q", reply.data)
	}
	return nil
}

// Del removes key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", p.key(key))
	return err
}

// Close is a no-op; connections are per command.
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) key(k string) string { return p.cfg.KeyPrefix + k }

func (p *ValkeyProvider) do(ctx context.Context, cmd string, args ...string) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		reply, err := p.roundTrip(ctx, cmd, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return respReply{}, ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * 25 * time.Millisecond):
		}
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) roundTrip(ctx context.Context, cmd string, args []string) (respReply, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return respReply{}, err
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	exchange := func(parts ...string) (respReply, error) {
		if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
			return respReply{}, err
		}
		if err := writeCommand(rw.Writer, parts); err != nil {
			return respReply{}, err
		}
		if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
			return respReply{}, err
		}
		return readReply(rw.Reader)
	}

	if p.cfg.Password != "" {
		auth := []string{"AUTH", p.cfg.Password}
		if p.cfg.Username != "" {
			auth = []string{"AUTH", p.cfg.Username, p.cfg.Password}
		}
		if reply, err := exchange(auth...); err != nil || !isOK(reply) {
			return respReply{}, fmt.Errorf("valkey auth failed: %v", firstErr(err, reply))
		}
	}
	if p.cfg.DB > 0 {
		if reply, err := exchange("SELECT", strconv.Itoa(p.cfg.DB)); err != nil || !isOK(reply) {
			return respReply{}, fmt.Errorf("valkey select %d failed: %v", p.cfg.DB, firstErr(err, reply))
		}
	}
	return exchange(append([]string{cmd}, args...)...)
}

func (p *ValkeyProvider) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	if !p.cfg.TLS {
		return dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	host, _, err := net.SplitHostPort(p.cfg.Addr)
	if err != nil {
		host = p.cfg.Addr
	}
	td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
	return td.DialContext(ctx, "tcp", p.cfg.Addr)
}

type respReply struct {
	kind byte
	data []byte
	null bool
}

// respError is an error reply sent by the server.
type respError string

func (e respError) Error() string { return "valkey: " + string(e) }

func writeCommand(w *bufio.Writer, parts []string) error {
	fmt.Fprintf(w, "*%d\r\n", len(parts))
	for _, part := range parts {
		fmt.Fprintf(w, "$%d\r\n%s\r\n", len(part), part)
	}
	return w.Flush()
}

func readReply(r *bufio.Reader) (respReply, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return respReply{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return respReply{}, errors.New("valkey: empty reply")
	}
	kind, body := line[0], line[1:]
	switch kind {
	case '+', ':':
		return respReply{kind: kind, data: []byte(body)}, nil
	case '-':
		return respReply{}, respError(body)
	case '$':
		size, err := strconv.Atoi(body)
		if err != nil {
			return respReply{}, fmt.Errorf("valkey: bad bulk length %q", body)
		}
		if size < 0 {
			return respReply{kind: kind, null: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("valkey: invalid bulk termination")
		}
		return respReply{kind: kind, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("valkey: unexpected RESP prefix %q", kind)
	}
}

func isOK(r respReply) bool {
	return r.kind == '+' && strings.EqualFold(string(r.data), "OK")
}

func firstErr(err error, r respReply) any {
	if err != nil {
		return err
	}
	return string(r.data)
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func applyValkeyDefaults(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}
