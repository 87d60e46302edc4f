// Package redisstub is a tiny in-process RESP server covering the string,
// counter, set and hash commands the Redis-backed host platform and the
// rate limiter use. Unknown
// commands get a RESP error and the connection stays open, which keeps the
// go-redis handshake (HELLO, CLIENT SETINFO) happy.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sort"
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
	closed   chan struct{}

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	strings  map[string]string
	sets     map[string]map[string]struct{}
	hashes   map[string]map[string]string
	expiry   map[string]time.Time
	commands map[string]int
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
		closed:   make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
		strings:  make(map[string]string),
		sets:     make(map[string]map[string]struct{}),
		hashes:   make(map[string]map[string]string),
		expiry:   make(map[string]time.Time),
		commands: make(map[string]int),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
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
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	return s.listener.Close()
}

// SetString seeds a string key.
func (s *Server) SetString(key, value string) {
	s.mu.Lock()
	s.strings[key] = value
	s.mu.Unlock()
}

// AddMembers seeds a set key.
func (s *Server) AddMembers(key string, members ...string) {
	s.mu.Lock()
	s.sadd(key, members)
	s.mu.Unlock()
}

// SetField seeds a hash field.
func (s *Server) SetField(key, field, value string) {
	s.mu.Lock()
	s.hset(key, field, value)
	s.mu.Unlock()
}

// Members returns the sorted members of a set key.
func (s *Server) Members(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members(key)
}

// CommandCount reports how many times a command (upper case) was received.
func (s *Server) CommandCount(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[strings.ToUpper(cmd)]
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
		s.mu.Lock()
		select {
		case <-s.closed:
			s.mu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
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
		cmd := strings.ToUpper(args[0])
		s.mu.Lock()
		s.commands[cmd]++
		s.mu.Unlock()

		var werr error
		switch cmd {
		case "PING":
			werr = writeSimpleString(writer, "PONG")
		case "HELLO":
			werr = writeError(writer, "ERR unknown command 'HELLO'")
		case "CLIENT", "SELECT":
			werr = writeSimpleString(writer, "OK")
		case "AUTH":
			if len(args) < 2 || len(args) > 3 {
				werr = writeError(writer, "ERR wrong number of arguments for 'auth'")
			} else if s.opts.Password == "" || args[len(args)-1] == s.opts.Password {
				authenticated = true
				werr = writeSimpleString(writer, "OK")
			} else {
				werr = writeError(writer, "WRONGPASS invalid username-password pair")
			}
		default:
			if !authenticated {
				werr = writeError(writer, "NOAUTH Authentication required.")
			} else {
				werr = s.dispatch(writer, cmd, args[1:])
			}
		}
		if werr != nil {
			return
		}
	}
}

func (s *Server) dispatch(w *bufio.Writer, cmd string, args []string) error {
	arity := map[string]int{
		"GET": 1, "SET": 2, "DEL": 1, "SADD": 2, "SREM": 2,
		"SISMEMBER": 2, "SMEMBERS": 1, "HSET": 3, "HGET": 2, "HDEL": 2,
		"INCR": 1, "EXPIRE": 2, "TTL": 1,
	}
	minArgs, known := arity[cmd]
	if !known {
		return writeError(w, fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmd)))
	}
	if len(args) < minArgs {
		return writeError(w, fmt.Sprintf("ERR wrong number of arguments for '%s'", strings.ToLower(cmd)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(args[0], time.Now())
	switch cmd {
	case "GET":
		value, ok := s.strings[args[0]]
		if !ok {
			return writeBulkNil(w)
		}
		return writeBulkString(w, value)
	case "SET":
		s.strings[args[0]] = args[1]
		delete(s.expiry, args[0])
		return writeSimpleString(w, "OK")
	case "INCR":
		current := int64(0)
		if raw, exists := s.strings[args[0]]; exists {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return writeError(w, "ERR value is not an integer or out of range")
			}
			current = parsed
		}
		current++
		s.strings[args[0]] = strconv.FormatInt(current, 10)
		return writeInteger(w, current)
	case "EXPIRE":
		seconds, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return writeError(w, "ERR value is not an integer or out of range")
		}
		if !s.exists(args[0]) {
			return writeInteger(w, 0)
		}
		s.expiry[args[0]] = time.Now().Add(time.Duration(seconds) * time.Second)
		return writeInteger(w, 1)
	case "TTL":
		if !s.exists(args[0]) {
			return writeInteger(w, -2)
		}
		deadline, ok := s.expiry[args[0]]
		if !ok {
			return writeInteger(w, -1)
		}
		return writeInteger(w, int64(time.Until(deadline).Round(time.Second)/time.Second))
	case "DEL":
		removed := int64(0)
		for _, key := range args {
			if s.deleteKey(key) {
				removed++
			}
		}
		return writeInteger(w, removed)
	case "SADD":
		return writeInteger(w, int64(s.sadd(args[0], args[1:])))
	case "SREM":
		removed := int64(0)
		for _, member := range args[1:] {
			if _, ok := s.sets[args[0]][member]; ok {
				delete(s.sets[args[0]], member)
				removed++
			}
		}
		return writeInteger(w, removed)
	case "SISMEMBER":
		if _, ok := s.sets[args[0]][args[1]]; ok {
			return writeInteger(w, 1)
		}
		return writeInteger(w, 0)
	case "SMEMBERS":
		return writeStringArray(w, s.members(args[0]))
	case "HSET":
		added := int64(0)
		for i := 1; i+1 < len(args); i += 2 {
			if s.hset(args[0], args[i], args[i+1]) {
				added++
			}
		}
		return writeInteger(w, added)
	case "HGET":
		value, ok := s.hashes[args[0]][args[1]]
		if !ok {
			return writeBulkNil(w)
		}
		return writeBulkString(w, value)
	case "HDEL":
		removed := int64(0)
		for _, field := range args[1:] {
			if _, ok := s.hashes[args[0]][field]; ok {
				delete(s.hashes[args[0]], field)
				removed++
			}
		}
		return writeInteger(w, removed)
	}
	return writeError(w, "ERR unsupported command")
}

func (s *Server) sadd(key string, members []string) int {
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	added := 0
	for _, member := range members {
		if _, exists := set[member]; !exists {
			set[member] = struct{}{}
			added++
		}
	}
	return added
}

func (s *Server) hset(key, field, value string) bool {
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	_, existed := hash[field]
	hash[field] = value
	return !existed
}

func (s *Server) members(key string) []string {
	out := make([]string, 0, len(s.sets[key]))
	for member := range s.sets[key] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out
}

func (s *Server) exists(key string) bool {
	_, inStrings := s.strings[key]
	_, inSets := s.sets[key]
	_, inHashes := s.hashes[key]
	return inStrings || inSets || inHashes
}

// expire drops key when its deadline has passed.
func (s *Server) expire(key string, now time.Time) {
	if deadline, ok := s.expiry[key]; ok && !now.Before(deadline) {
		s.deleteKey(key)
	}
}

func (s *Server) deleteKey(key string) bool {
	_, inStrings := s.strings[key]
	_, inSets := s.sets[key]
	_, inHashes := s.hashes[key]
	delete(s.strings, key)
	delete(s.sets, key)
	delete(s.hashes, key)
	delete(s.expiry, key)
	return inStrings || inSets || inHashes
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeStringArray(w *bufio.Writer, values []string) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
