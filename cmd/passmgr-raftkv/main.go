// Package main provides a replicated key-value node built on the bbolt
// raft log store, demonstrating the raftlog package end to end.
package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/raft"
	"github.com/spf13/cobra"

	"github.com/passmgr-tool/passmgr/internal/logging"
	"github.com/passmgr-tool/passmgr/internal/raftlog"
	"github.com/passmgr-tool/passmgr/internal/record"
)

// Version is set at build time via ldflags.
var Version = "dev"

const applyTimeout = 10 * time.Second

func main() {
	var (
		nodeID    string
		raftAddr  string
		httpAddr  string
		dataDir   string
		bootstrap bool
	)

	rootCmd := &cobra.Command{
		Use:     "passmgr-raftkv",
		Short:   "Replicated KV node over the passmgr raft log store",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(nodeID, raftAddr, httpAddr, dataDir, bootstrap)
		},
	}

	rootCmd.Flags().StringVar(&nodeID, "id", "node1", "raft server ID")
	rootCmd.Flags().StringVar(&raftAddr, "raft-addr", "127.0.0.1:7000", "raft transport address")
	rootCmd.Flags().StringVar(&httpAddr, "http-addr", "127.0.0.1:8000", "HTTP API address")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "raftkv-data", "data directory")
	rootCmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "bootstrap a new single-node cluster")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(nodeID, raftAddr, httpAddr, dataDir string, bootstrap bool) error {
	logger := logging.NewLogger("info", "text")

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}

	logs, err := raftlog.Open(filepath.Join(dataDir, "raft.db"))
	if err != nil {
		return err
	}
	defer logs.Close()

	snapshots, err := raft.NewFileSnapshotStore(dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", raftAddr)
	if err != nil {
		return err
	}
	transport, err := raft.NewTCPTransport(raftAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("raft transport: %w", err)
	}

	conf := raft.DefaultConfig()
	conf.LocalID = raft.ServerID(nodeID)

	fsm := newKVFSM()
	r, err := raft.NewRaft(conf, fsm, logs, logs, snapshots, transport)
	if err != nil {
		return fmt.Errorf("raft: %w", err)
	}

	if bootstrap {
		r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: conf.LocalID, Address: transport.LocalAddr()}},
		})
	}

	api := &kvAPI{raft: r, fsm: fsm}
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           api.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("kv api listening", logging.KeyAddress, httpAddr)
		httpSrv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	httpSrv.Close()
	return r.Shutdown().Error()
}

// kvCommand is one replicated operation.
type kvCommand struct {
	Op    string `cbor:"1,keyasint"`
	Key   string `cbor:"2,keyasint"`
	Value []byte `cbor:"3,keyasint,omitempty"`
}

// kvFSM is the replicated state machine: a flat key-value map.
type kvFSM struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newKVFSM() *kvFSM {
	return &kvFSM{data: make(map[string][]byte)}
}

// Apply executes one committed log entry.
func (f *kvFSM) Apply(log *raft.Log) any {
	var cmd kvCommand
	if err := record.Unmarshal(log.Data, &cmd); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch cmd.Op {
	case "set":
		f.data[cmd.Key] = cmd.Value
	case "delete":
		delete(f.data, cmd.Key)
	default:
		return fmt.Errorf("unknown op %q", cmd.Op)
	}
	return nil
}

// Get reads a key from the local state.
func (f *kvFSM) Get(key string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	return v, ok
}

// Snapshot captures the current map.
func (f *kvFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	clone := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		clone[k] = v
	}
	return &kvSnapshot{data: clone}, nil
}

// Restore replaces the map from a snapshot stream.
func (f *kvFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	data := make(map[string][]byte)
	if err := record.Unmarshal(raw, &data); err != nil {
		return err
	}

	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
	return nil
}

// kvSnapshot serializes a point-in-time copy of the map.
type kvSnapshot struct {
	data map[string][]byte
}

func (s *kvSnapshot) Persist(sink raft.SnapshotSink) error {
	raw, err := record.Marshal(s.data)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(raw); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *kvSnapshot) Release() {}

// kvAPI exposes the replicated map over HTTP.
type kvAPI struct {
	raft *raft.Raft
	fsm  *kvFSM
}

func (a *kvAPI) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/kv/", a.handleKV)
	mux.HandleFunc("/join", a.handleJoin)
	return mux
}

func (a *kvAPI) handleKV(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, ok := a.fsm.Get(key)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Write(v)

	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.apply(w, kvCommand{Op: "set", Key: key, Value: body})

	case http.MethodDelete:
		a.apply(w, kvCommand{Op: "delete", Key: key})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *kvAPI) apply(w http.ResponseWriter, cmd kvCommand) {
	if a.raft.State() != raft.Leader {
		http.Error(w, "not the leader", http.StatusServiceUnavailable)
		return
	}

	data, err := record.Marshal(&cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := a.raft.Apply(data, applyTimeout).Error(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleJoin adds a voter to the cluster: POST /join?id=node2&addr=host:port
func (a *kvAPI) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	addr := r.URL.Query().Get("addr")
	if id == "" || addr == "" {
		http.Error(w, "id and addr required", http.StatusBadRequest)
		return
	}

	future := a.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, applyTimeout)
	if err := future.Error(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
