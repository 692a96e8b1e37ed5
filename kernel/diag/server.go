// Package diag exposes a small HTTP introspection server over the kernel
// core: system info, uptime, the task table and the IPC queues, plus the
// standard profiling endpoints for inspecting the scheduler and IPC hot
// paths under load.
package diag

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/gorilla/mux"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/sched"
	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/sys"
)

// TaskInfo is the wire form of one task table entry.
type TaskInfo struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	TraceID  string `json:"trace_id"`
	State    uint8  `json:"state"`
	Priority uint8  `json:"priority"`
	CPUTime  uint64 `json:"cpu_time"`
}

// QueueInfo is the wire form of one IPC queue.
type QueueInfo struct {
	Owner    string `json:"owner"`
	Capacity uint32 `json:"capacity"`
	Depth    uint32 `json:"depth"`
}

// Server serves the introspection routes. The zero port picks a free one.
type Server struct {
	port     int
	listener net.Listener
	logger   *log.Logger
}

// NewServer builds an introspection server on the given port.
func NewServer(port int) *Server {
	return &Server{
		port:   port,
		logger: log.New(os.Stderr, "[diag] ", 0),
	}
}

// Start binds the listener and serves in the background, returning the
// address it is reachable on.
func (s *Server) Start() (string, error) {
	router := mux.NewRouter()
	router.HandleFunc("/info", s.info)
	router.HandleFunc("/uptime", s.uptime)
	router.HandleFunc("/tasks", s.tasks)
	router.HandleFunc("/queues", s.queues)

	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return "", err
	}
	s.listener = listener

	go http.Serve(listener, router)

	addr := listener.Addr().String()
	s.logger.Printf("introspection server listening on %s", addr)
	return addr, nil
}

// Stop closes the listener.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, sys.GetSystemInfo())
}

func (s *Server) uptime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]uint64{"uptime_ms": sys.GetUptime()})
}

func (s *Server) tasks(w http.ResponseWriter, r *http.Request) {
	out := []TaskInfo{}
	if scheduler := sys.Scheduler(); scheduler != nil {
		scheduler.Tasks(func(t *sched.Task) {
			out = append(out, TaskInfo{
				ID:       t.ID,
				Name:     t.Name,
				TraceID:  t.TraceID.String(),
				State:    uint8(t.State),
				Priority: uint8(t.Priority),
				CPUTime:  t.CPUTime,
			})
		})
	}
	writeJSON(w, out)
}

func (s *Server) queues(w http.ResponseWriter, r *http.Request) {
	out := []QueueInfo{}
	if router := sys.Router(); router != nil {
		for _, q := range router.Queues() {
			out = append(out, QueueInfo{
				Owner:    q.Owner(),
				Capacity: q.Capacity(),
				Depth:    q.Len(),
			})
		}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
