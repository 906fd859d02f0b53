// Package redisstub runs a minimal in-process Redis protocol server
// implementing the stream and key-value commands the token store and job
// queue rely on. It exists so Redis-backed paths can be tested without a
// real Redis instance.
package redisstub

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	streams  map[string]*stream
	kv       map[string]*kvEntry
	closed   chan struct{}
}

type stream struct {
	entries []streamEntry
	groups  map[string]*groupState
	seq     int64
}

type streamEntry struct {
	id     string
	values map[string]string
}

// groupState tracks a consumer group's read cursor and its pending entries
// (delivered but unacked), keyed by entry id with the last delivery time.
type groupState struct {
	nextIndex int
	pending   map[string]time.Time
}

type kvEntry struct {
	value  string
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		streams:  make(map[string]*stream),
		kv:       make(map[string]*kvEntry),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

// StreamLen reports the number of entries appended to a stream, including
// already-delivered ones.
func (s *Server) StreamLen(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm, ok := s.streams[name]
	if !ok {
		return 0
	}
	return len(strm.entries)
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := writeError(writer, "ERR wrong number of arguments"); err != nil {
				return
			}
			continue
		}
		switch strings.ToUpper(args[0]) {
		case "PING":
			if err := writeSimpleString(writer, "PONG"); err != nil {
				return
			}
		case "HELLO":
			// RESP2 only; go-redis downgrades when HELLO errors.
			if err := writeError(writer, "ERR unknown command 'HELLO'"); err != nil {
				return
			}
		case "CLIENT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		case "AUTH":
			supplied := ""
			if len(args) == 2 {
				supplied = args[1]
			} else if len(args) == 3 {
				supplied = args[2]
			}
			if s.opts.Password == "" || supplied == s.opts.Password {
				authenticated = true
				if err := writeSimpleString(writer, "OK"); err != nil {
					return
				}
			} else if err := writeError(writer, "WRONGPASS invalid username-password pair"); err != nil {
				return
			}
		case "SELECT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		default:
			if !authenticated {
				if err := writeError(writer, "NOAUTH Authentication required."); err != nil {
					return
				}
				continue
			}
			if !s.dispatch(writer, args) {
				return
			}
		}
	}
}

func (s *Server) dispatch(writer *bufio.Writer, args []string) bool {
	switch strings.ToUpper(args[0]) {
	case "SET":
		return s.handleSet(writer, args)
	case "GET":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'get'") == nil
		}
		value, ok := s.get(args[1])
		if !ok {
			return writeBulkNil(writer) == nil
		}
		return writeBulkString(writer, value) == nil
	case "DEL":
		if len(args) < 2 {
			return writeError(writer, "ERR wrong number of arguments for 'del'") == nil
		}
		return writeInteger(writer, s.del(args[1:])) == nil
	case "XADD":
		return s.handleXAdd(writer, args)
	case "XGROUP":
		return s.handleXGroup(writer, args)
	case "XREADGROUP":
		return s.handleXReadGroup(writer, args)
	case "XAUTOCLAIM":
		return s.handleXAutoClaim(writer, args)
	case "XACK":
		if len(args) < 4 {
			return writeError(writer, "ERR wrong number of arguments for 'xack'") == nil
		}
		return writeInteger(writer, int64(s.ack(args[1], args[2], args[3:]))) == nil
	default:
		_ = writeError(writer, "ERR unsupported command")
		return false
	}
}

func (s *Server) handleSet(writer *bufio.Writer, args []string) bool {
	if len(args) < 3 {
		return writeError(writer, "ERR wrong number of arguments for 'set'") == nil
	}
	var expiry time.Time
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "EX":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			seconds, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || seconds <= 0 {
				return writeError(writer, "ERR invalid expire time in 'set' command") == nil
			}
			expiry = time.Now().Add(time.Duration(seconds) * time.Second)
			i++
		default:
			return writeError(writer, "ERR syntax error") == nil
		}
	}
	s.mu.Lock()
	s.kv[args[1]] = &kvEntry{value: args[2], expiry: expiry}
	s.mu.Unlock()
	return writeSimpleString(writer, "OK") == nil
}

func (s *Server) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok {
		return "", false
	}
	if !entry.expiry.IsZero() && time.Now().After(entry.expiry) {
		delete(s.kv, key)
		return "", false
	}
	return entry.value, true
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.kv[key]; ok {
			delete(s.kv, key)
			removed++
		}
	}
	return removed
}

func (s *Server) handleXAdd(writer *bufio.Writer, args []string) bool {
	if len(args) < 5 {
		return writeError(writer, "ERR wrong number of arguments for 'xadd'") == nil
	}
	name := args[1]
	values := make(map[string]string)
	for i := 3; i+1 < len(args); i += 2 {
		values[args[i]] = args[i+1]
	}
	s.mu.Lock()
	strm := s.ensureStream(name)
	strm.seq++
	id := args[2]
	if id == "*" {
		id = fmt.Sprintf("%d-%d", time.Now().UnixMilli(), strm.seq)
	}
	strm.entries = append(strm.entries, streamEntry{id: id, values: values})
	s.mu.Unlock()
	return writeBulkString(writer, id) == nil
}

func (s *Server) handleXGroup(writer *bufio.Writer, args []string) bool {
	if len(args) < 5 {
		return writeError(writer, "ERR wrong number of arguments for 'xgroup'") == nil
	}
	if strings.ToUpper(args[1]) != "CREATE" {
		return writeError(writer, "ERR only CREATE supported") == nil
	}
	name, group := args[2], args[3]
	s.mu.Lock()
	strm := s.ensureStream(name)
	if _, exists := strm.groups[group]; exists {
		s.mu.Unlock()
		return writeError(writer, "BUSYGROUP Consumer Group name already exists") == nil
	}
	strm.groups[group] = &groupState{pending: make(map[string]time.Time)}
	s.mu.Unlock()
	return writeSimpleString(writer, "OK") == nil
}

func (s *Server) ensureStream(name string) *stream {
	strm, ok := s.streams[name]
	if !ok {
		strm = &stream{groups: make(map[string]*groupState)}
		s.streams[name] = strm
	}
	return strm
}

func (s *Server) handleXReadGroup(writer *bufio.Writer, args []string) bool {
	var group, name string
	count := 1
	blockMs := 0
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "GROUP":
			if i+2 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			group = args[i+1]
			i += 2
		case "COUNT":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return writeError(writer, "ERR invalid COUNT") == nil
			}
			count = v
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return writeError(writer, "ERR invalid BLOCK") == nil
			}
			blockMs = v
			i++
		case "STREAMS":
			if i+2 >= len(args) {
				return writeError(writer, "ERR syntax error") == nil
			}
			name = args[i+1]
			i = len(args)
		}
	}
	if name == "" || group == "" {
		return writeError(writer, "ERR missing stream or group") == nil
	}
	deadline := time.Now().Add(time.Duration(blockMs) * time.Millisecond)
	for {
		items := s.readGroup(name, group, count)
		if len(items) > 0 {
			return writeArray(writer, []interface{}{items}) == nil
		}
		if blockMs <= 0 || time.Now().After(deadline) {
			return writeBulkNil(writer) == nil
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (s *Server) handleXAutoClaim(writer *bufio.Writer, args []string) bool {
	if len(args) < 6 {
		return writeError(writer, "ERR wrong number of arguments for 'xautoclaim'") == nil
	}
	name, group := args[1], args[2]
	minIdleMs, err := strconv.ParseInt(args[4], 10, 64)
	if err != nil || minIdleMs < 0 {
		return writeError(writer, "ERR invalid min-idle-time") == nil
	}
	count := 100
	for i := 6; i+1 < len(args); i += 2 {
		if strings.ToUpper(args[i]) == "COUNT" {
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return writeError(writer, "ERR invalid COUNT") == nil
			}
			count = v
		}
	}

	cutoff := time.Now().Add(-time.Duration(minIdleMs) * time.Millisecond)
	records := make([]interface{}, 0)
	s.mu.Lock()
	if strm, ok := s.streams[name]; ok {
		if state, ok := strm.groups[group]; ok {
			for _, entry := range strm.entries {
				if len(records) >= count {
					break
				}
				deliveredAt, pending := state.pending[entry.id]
				if !pending || deliveredAt.After(cutoff) {
					continue
				}
				state.pending[entry.id] = time.Now()
				records = append(records, []interface{}{entry.id, flatten(entry.values)})
			}
		}
	}
	s.mu.Unlock()
	return writeArray(writer, []interface{}{"0-0", records}) == nil
}

func (s *Server) readGroup(name, group string, count int) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm := s.ensureStream(name)
	state, ok := strm.groups[group]
	if !ok {
		state = &groupState{pending: make(map[string]time.Time)}
		strm.groups[group] = state
	}
	start := state.nextIndex
	if start >= len(strm.entries) {
		return nil
	}
	end := start + count
	if end > len(strm.entries) {
		end = len(strm.entries)
	}
	records := make([]interface{}, 0, end-start)
	for i := start; i < end; i++ {
		entry := strm.entries[i]
		state.pending[entry.id] = time.Now()
		records = append(records, []interface{}{entry.id, flatten(entry.values)})
	}
	state.nextIndex = end
	return []interface{}{name, records}
}

func flatten(values map[string]string) []interface{} {
	out := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		out = append(out, k, v)
	}
	return out
}

func (s *Server) ack(name, group string, ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm, ok := s.streams[name]
	if !ok {
		return 0
	}
	state, ok := strm.groups[group]
	if !ok {
		return 0
	}
	count := 0
	for _, id := range ids {
		if _, exists := state.pending[id]; exists {
			delete(state.pending, id)
			count++
		}
	}
	return count
}
