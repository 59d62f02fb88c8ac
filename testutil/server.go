// Package testutil provides an in-memory fake of the resource API for
// cross-package tests: resources, tus uploads, raw downloads, public shares,
// login/renew, and the command websocket. Faults can be injected into tus
// PATCH handling to exercise retry and re-sync paths.
package testutil

import (
	"crypto/md5" //nolint:gosec // fake server checksum
	"crypto/sha1" //nolint:gosec // fake server checksum
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
)

const tusSessionPrefix = "/api/tus-upload/"

// Request is a recorded request line.
type Request struct {
	Method   string
	Path     string // decoded path
	RawQuery string
}

// PatchFault makes one tus PATCH fail. Keep bytes of the chunk are stored
// before failing, the way a connection dropped mid-body leaves a partial
// write on a real server. Status 0 drops the connection without a response.
type PatchFault struct {
	Status int
	Keep   int64
}

type tusUpload struct {
	path      string
	size      int64
	data      []byte
	overwrite bool
	metadata  string
	done      bool
}

// Server is a fake resource API backed by memory.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	files       map[string][]byte
	dirs        map[string]bool
	uploads     map[string]*tusUpload
	nextID      int
	requests    []Request
	patchFaults []PatchFault
	patchCount  int

	token         string
	users         map[string]string
	tusDisabled   bool
	lateConflict  bool
	sharePassword string
	commands      map[string][]string
	presignBase   string
}

// NewServer starts a fake server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
		uploads:  make(map[string]*tusUpload),
		users:    make(map[string]string),
		commands: make(map[string][]string),
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	s.presignBase = s.URL + "/presigned"
	t.Cleanup(s.Close)

	return s
}

// RequireToken makes every authenticated endpoint demand token in X-Auth
// (or the auth query parameter).
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
}

// AddUser registers credentials accepted by the login endpoint.
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[username] = password
}

// DisableTus makes the tus endpoint answer 404 to everything.
func (s *Server) DisableTus() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tusDisabled = true
}

// DeferTusConflicts moves the destination-exists check for tus uploads
// from session creation to the first PATCH.
func (s *Server) DeferTusConflicts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lateConflict = true
}

// SetSharePassword protects the public share endpoints.
func (s *Server) SetSharePassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sharePassword = password
}

// SetCommand registers the output lines of a command for the websocket runner.
func (s *Server) SetCommand(command string, output ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands[command] = output
}

// FailPatches queues faults for the next tus PATCH requests, in order.
func (s *Server) FailPatches(faults ...PatchFault) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patchFaults = append(s.patchFaults, faults...)
}

// PutFile stores a file, creating parent directories.
func (s *Server) PutFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storeLocked(clean(p), data)
}

// File returns a stored file.
func (s *Server) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.files[clean(p)]

	return data, ok
}

// HasDir reports whether a directory exists.
func (s *Server) HasDir(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dirs[clean(p)]
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Request(nil), s.requests...)
}

// CountRequests returns how many requests used method on a path with prefix.
func (s *Server) CountRequests(method, prefix string) int {
	n := 0

	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}

	return n
}

// PatchCount returns how many tus PATCH requests were received.
func (s *Server) PatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.patchCount
}

// UploadedBytes returns how many bytes the server holds for in-progress tus
// uploads, keyed by logical path.
func (s *Server) UploadedBytes() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.uploads))
	for _, u := range s.uploads {
		if !u.done {
			out[u.path] = int64(len(u.data))
		}
	}

	return out
}

// UploadMetadata returns the raw Upload-Metadata header of the most recent
// tus session created for p.
func (s *Server) UploadMetadata(p string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	best, md := 0, ""

	for id, u := range s.uploads {
		n, _ := strconv.Atoi(id)
		if u.path == clean(p) && n > best {
			best, md = n, u.metadata
		}
	}

	return md
}

// MintToken returns an HS256 JWT for subject whose exp claim is exp. The
// fake server never verifies signatures.
func MintToken(subject string, exp time.Time) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	signed, err := tok.SignedString([]byte("resourcectl-test"))
	if err != nil {
		panic(err)
	}

	return signed
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	s.mu.Unlock()

	p := r.URL.Path

	switch {
	case p == "/api/login":
		s.handleLogin(w, r)
	case strings.HasPrefix(p, "/api/public/share"):
		s.handleShare(w, r, strings.TrimPrefix(p, "/api/public/share"))
	case strings.HasPrefix(p, "/api/public/dl/"):
		s.handlePublicDownload(w, r, strings.TrimPrefix(p, "/api/public/dl/"))
	case !s.authorized(r):
		http.Error(w, "401 Unauthorized", http.StatusUnauthorized)
	case p == "/api/renew":
		s.handleRenew(w, r)
	case strings.HasPrefix(p, tusSessionPrefix):
		s.handleTusSession(w, r, strings.TrimPrefix(p, tusSessionPrefix))
	case p == "/api/tus" || strings.HasPrefix(p, "/api/tus/"):
		s.handleTusCreate(w, r, strings.TrimPrefix(p, "/api/tus"))
	case strings.HasPrefix(p, "/api/resources"):
		s.handleResource(w, r, strings.TrimPrefix(p, "/api/resources"))
	case strings.HasPrefix(p, "/api/raw"):
		s.handleRaw(w, strings.TrimPrefix(p, "/api/raw"))
	case strings.HasPrefix(p, "/api/info"):
		writeJSON(w, map[string]any{"path": clean(strings.TrimPrefix(p, "/api/info")), "version": "test"})
	case strings.HasPrefix(p, "/api/command"):
		s.handleCommand(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	if token == "" {
		return true
	}

	return r.Header.Get("X-Auth") == token || r.URL.Query().Get("auth") == token
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	want, ok := s.users[creds.Username]
	s.mu.Unlock()

	if !ok || want != creds.Password {
		http.Error(w, "403 Forbidden", http.StatusForbidden)
		return
	}

	token := MintToken(creds.Username, time.Now().Add(2*time.Hour))
	s.RequireToken(token)

	_, _ = io.WriteString(w, token)
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := MintToken("renewed", time.Now().Add(2*time.Hour))
	s.RequireToken(token)

	_, _ = io.WriteString(w, token)
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request, p string) {
	isDir := strings.HasSuffix(p, "/")
	p = clean(p)
	q := r.URL.Query()

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, p, q)
	case http.MethodPost:
		s.mu.Lock()
		defer s.mu.Unlock()

		_, fileExists := s.files[p]
		if (fileExists || s.dirs[p]) && q.Get("override") != "true" {
			w.WriteHeader(http.StatusConflict)
			return
		}

		if isDir {
			s.mkdirLocked(p)
			w.WriteHeader(http.StatusOK)

			return
		}

		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.storeLocked(p, data)
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.files[p]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		s.files[p] = data
	case http.MethodDelete:
		s.mu.Lock()
		defer s.mu.Unlock()

		if !s.removeLocked(p) {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodPatch:
		s.handlePatch(w, p, q)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, p string, q url.Values) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if algo := q.Get("checksum"); algo != "" {
		data, ok := s.files[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		h := checksumHash(algo)
		if h == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		h.Write(data)

		writeJSON(w, map[string]any{
			"name":      path.Base(p),
			"path":      p,
			"size":      len(data),
			"checksums": map[string]string{algo: hex.EncodeToString(h.Sum(nil))},
		})

		return
	}

	item, ok := s.itemLocked(p, true)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeJSON(w, item)
}

func (s *Server) handlePatch(w http.ResponseWriter, from string, q url.Values) {
	dst, err := url.QueryUnescape(q.Get("destination"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	dst = clean(dst)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, isFile := s.files[from]
	if !isFile && !s.dirs[from] {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	_, dstFile := s.files[dst]
	if dstFile || s.dirs[dst] {
		switch {
		case q.Get("rename") == "true":
			dst = s.freeNameLocked(dst)
		case q.Get("override") == "true":
			s.removeLocked(dst)
		default:
			w.WriteHeader(http.StatusConflict)
			return
		}
	}

	if !isFile {
		s.mkdirLocked(dst)

		for fp, fd := range s.files {
			if strings.HasPrefix(fp, from+"/") {
				s.storeLocked(dst+strings.TrimPrefix(fp, from), fd)
			}
		}
	} else {
		s.storeLocked(dst, data)
	}

	if q.Get("action") == "rename" {
		s.removeLocked(from)
	}

	_, _ = io.WriteString(w, dst)
}

func (s *Server) handleRaw(w http.ResponseWriter, p string) {
	data, ok := s.File(p)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleTusCreate(w http.ResponseWriter, r *http.Request, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tusDisabled {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if r.Method == http.MethodOptions {
		w.Header().Set("Tus-Resumable", "1.0.0")
		w.Header().Set("Tus-Version", "1.0.0")
		w.Header().Set("Tus-Extension", "creation,termination")
		w.WriteHeader(http.StatusNoContent)

		return
	}

	if r.Method != http.MethodPost || r.Header.Get("Tus-Resumable") != "1.0.0" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p = clean(p)
	overwrite := r.URL.Query().Get("override") == "true"

	if _, exists := s.files[p]; exists && !overwrite && !s.lateConflict {
		w.WriteHeader(http.StatusConflict)
		return
	}

	size, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
	if err != nil || size < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.uploads[id] = &tusUpload{
		path: p, size: size, overwrite: overwrite,
		metadata: r.Header.Get("Upload-Metadata"),
	}

	if size == 0 {
		s.finishLocked(id)
	}

	w.Header().Set("Location", tusSessionPrefix+id)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleTusSession(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()

	up, ok := s.uploads[id]
	if !ok {
		s.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)

		return
	}

	w.Header().Set("Tus-Resumable", "1.0.0")

	switch r.Method {
	case http.MethodHead:
		w.Header().Set("Upload-Offset", strconv.Itoa(len(up.data)))
		w.Header().Set("Upload-Length", strconv.FormatInt(up.size, 10))
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(s.uploads, id)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPatch:
		s.patchCount++

		var fault *PatchFault
		if len(s.patchFaults) > 0 {
			fault = &s.patchFaults[0]
			s.patchFaults = s.patchFaults[1:]
		}
		s.mu.Unlock()

		s.handleTusPatch(w, r, id, fault)
	default:
		s.mu.Unlock()
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTusPatch(w http.ResponseWriter, r *http.Request, id string, fault *PatchFault) {
	offset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil || r.Header.Get("Content-Type") != "application/offset+octet-stream" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	chunk, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	up, ok := s.uploads[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if up.done || offset != int64(len(up.data)) {
		w.WriteHeader(http.StatusConflict)
		return
	}

	if _, exists := s.files[up.path]; exists && offset == 0 && !up.overwrite {
		w.WriteHeader(http.StatusConflict)
		return
	}

	if fault != nil {
		keep := min(fault.Keep, int64(len(chunk)))
		up.data = append(up.data, chunk[:keep]...)

		if fault.Status == 0 {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, hjErr := hj.Hijack(); hjErr == nil {
					conn.Close()
					return
				}
			}

			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(fault.Status)

		return
	}

	if int64(len(up.data)+len(chunk)) > up.size {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	up.data = append(up.data, chunk...)
	newOffset := len(up.data)

	if int64(newOffset) == up.size {
		s.finishLocked(id)
	}

	w.Header().Set("Upload-Offset", strconv.Itoa(newOffset))
	w.WriteHeader(http.StatusNoContent)
}

// finishLocked moves a completed tus upload into the file tree. The session
// stays addressable so HEAD keeps reporting the final offset.
func (s *Server) finishLocked(id string) {
	up := s.uploads[id]
	up.done = true
	s.storeLocked(up.path, up.data)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request, p string) {
	s.mu.Lock()
	password := s.sharePassword
	s.mu.Unlock()

	if password != "" {
		got, err := url.QueryUnescape(r.Header.Get("X-SHARE-PASSWORD"))
		if err != nil || got != password {
			http.Error(w, "401 Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	hash, rest := splitShare(p)

	s.mu.Lock()
	item, ok := s.itemLocked(rest, true)
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	item["hash"] = hash
	item["token"] = "share-token"

	q := r.URL.Query()
	if q.Get("presign") == "true" {
		item["presignedURL"] = s.presignBase + rest + "?sig=fake"
	}

	if size := q.Get("preview"); size != "" {
		item["previewURL"] = "/api/preview/" + size + rest
	}

	writeJSON(w, item)
}

func (s *Server) handlePublicDownload(w http.ResponseWriter, r *http.Request, p string) {
	_, rest := splitShare("/" + p)

	if r.URL.Query().Get("token") != "share-token" {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	s.handleRaw(w, rest)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	_, msg, err := conn.Read(ctx)
	if err != nil {
		return
	}

	s.mu.Lock()
	lines, ok := s.commands[string(msg)]
	s.mu.Unlock()

	if !ok {
		lines = []string{"Command not allowed."}
	}

	for _, line := range lines {
		if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
			return
		}
	}

	// A finished command drops the connection without a close frame.
}

// itemLocked renders a file or directory the way the resource API does.
func (s *Server) itemLocked(p string, withChildren bool) (map[string]any, bool) {
	if data, ok := s.files[p]; ok {
		return map[string]any{
			"name":      path.Base(p),
			"path":      p,
			"isDir":     false,
			"size":      len(data),
			"extension": path.Ext(p),
			"modified":  time.Unix(0, 0).UTC().Format(time.RFC3339),
			"type":      "blob",
		}, true
	}

	if !s.dirs[p] {
		return nil, false
	}

	item := map[string]any{
		"name":     path.Base(p),
		"path":     p,
		"isDir":    true,
		"modified": time.Unix(0, 0).UTC().Format(time.RFC3339),
	}

	if !withChildren {
		return item, true
	}

	var names []string

	for fp := range s.files {
		if path.Dir(fp) == p && fp != p {
			names = append(names, fp)
		}
	}

	for dp := range s.dirs {
		if path.Dir(dp) == p && dp != p {
			names = append(names, dp)
		}
	}

	sort.Strings(names)

	children := make([]map[string]any, 0, len(names))
	numDirs, numFiles := 0, 0

	for _, n := range names {
		child, _ := s.itemLocked(n, false)
		if s.dirs[n] {
			numDirs++
		} else {
			numFiles++
		}

		children = append(children, child)
	}

	item["items"] = children
	item["numDirs"] = numDirs
	item["numFiles"] = numFiles

	return item, true
}

func (s *Server) storeLocked(p string, data []byte) {
	s.mkdirLocked(path.Dir(p))
	s.files[p] = append([]byte(nil), data...)
}

func (s *Server) mkdirLocked(p string) {
	for d := p; ; d = path.Dir(d) {
		s.dirs[d] = true
		if d == "/" {
			return
		}
	}
}

func (s *Server) removeLocked(p string) bool {
	if _, ok := s.files[p]; ok {
		delete(s.files, p)
		return true
	}

	if !s.dirs[p] || p == "/" {
		return false
	}

	for fp := range s.files {
		if strings.HasPrefix(fp, p+"/") {
			delete(s.files, fp)
		}
	}

	for dp := range s.dirs {
		if dp == p || strings.HasPrefix(dp, p+"/") {
			delete(s.dirs, dp)
		}
	}

	return true
}

func (s *Server) freeNameLocked(p string) string {
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s(%d)%s", base, i, ext)

		_, isFile := s.files[candidate]
		if !isFile && !s.dirs[candidate] {
			return candidate
		}
	}
}

func clean(p string) string {
	return path.Clean("/" + p)
}

// splitShare splits "/{hash}/rest" into the hash and the logical path.
func splitShare(p string) (string, string) {
	trimmed := strings.TrimPrefix(p, "/")
	hash, rest, _ := strings.Cut(trimmed, "/")

	return hash, clean(rest)
}

func checksumHash(algo string) hash.Hash {
	switch algo {
	case "md5":
		return md5.New() //nolint:gosec // fake server checksum
	case "sha1":
		return sha1.New() //nolint:gosec // fake server checksum
	case "sha256":
		return sha256.New()
	case "sha512":
		return sha512.New()
	default:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
