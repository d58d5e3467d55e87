package server

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/passmgr-tool/passmgr/internal/identity"
	"github.com/passmgr-tool/passmgr/internal/logging"
	"github.com/passmgr-tool/passmgr/internal/metrics"
	"github.com/passmgr-tool/passmgr/internal/record"
	"github.com/passmgr-tool/passmgr/internal/store"
	"github.com/passmgr-tool/passmgr/internal/syncrpc"
)

// recordDBName is the per-user database file inside the user's directory.
const recordDBName = "records.db"

// Options configures the service.
type Options struct {
	// DataDir holds one subdirectory per registered user.
	DataDir string

	// AuthDBPath is the auth database location. Defaults to
	// <DataDir>/../auth.db when empty.
	AuthDBPath string

	// RegisterRate bounds Register calls per second (burst 2x+1). Zero
	// disables the limiter.
	RegisterRate float64

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Service implements syncrpc.PassmgrServer over per-user bbolt stores.
//
// Replay protection: validateAuth holds the user's mutex across
// read AuthEntry → nonce compare → signature verify → increment → write.
// That window is the authority for at-most-once acceptance; everything
// after it runs without the lock.
type Service struct {
	opts Options
	auth *AuthStore
	log  *slog.Logger
	met  *metrics.Metrics

	limiter *rate.Limiter

	mu     sync.Mutex
	users  map[identity.UserID]*userState
	closed bool
}

// userState is the in-process state for one user: the auth critical
// section lock and the lazily opened record store.
type userState struct {
	authMu  sync.Mutex
	storeMu sync.Mutex
	storage *store.Storage
}

// New opens the auth store and returns a ready service.
func New(opts Options) (*Service, error) {
	if opts.AuthDBPath == "" {
		opts.AuthDBPath = filepath.Join(filepath.Dir(opts.DataDir), "auth.db")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}

	auth, err := OpenAuthStore(opts.AuthDBPath)
	if err != nil {
		return nil, err
	}

	s := &Service{
		opts:  opts,
		auth:  auth,
		log:   opts.Logger.With(logging.KeyComponent, "sync-server"),
		met:   opts.Metrics,
		users: make(map[identity.UserID]*userState),
	}
	if opts.RegisterRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RegisterRate), int(2*opts.RegisterRate)+1)
	}
	return s, nil
}

// Close shuts down every open store and the auth database.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	states := make([]*userState, 0, len(s.users))
	for _, st := range s.users {
		states = append(states, st)
	}
	s.users = map[identity.UserID]*userState{}
	s.mu.Unlock()

	for _, st := range states {
		st.storeMu.Lock()
		if st.storage != nil {
			st.storage.Close()
			st.storage = nil
			s.met.StoresOpen.Dec()
		}
		st.storeMu.Unlock()
	}
	return s.auth.Close()
}

// state returns (creating on demand) the in-process state for a user.
func (s *Service) state(userID identity.UserID) *userState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[userID]
	if !ok {
		st = &userState{}
		s.users[userID] = st
	}
	return st
}

// storage opens (or reuses) the user's record store. Stores live under
// <DataDir>/<hex(user_id)>/records.db so tenants never share a tree.
func (s *Service) storage(userID identity.UserID) (*store.Storage, error) {
	st := s.state(userID)
	st.storeMu.Lock()
	defer st.storeMu.Unlock()

	if st.storage != nil {
		return st.storage, nil
	}

	path := filepath.Join(s.opts.DataDir, userID.String(), recordDBName)
	storage, err := store.Open(path, userID)
	if err != nil {
		return nil, err
	}
	st.storage = storage
	s.met.StoresOpen.Inc()
	return storage, nil
}

// validateAuth runs the replay-protection critical section and returns the
// authenticated user ID. On success the stored nonce has already advanced,
// so a byte-identical resend can never be accepted again.
func (s *Service) validateAuth(method string, msg syncrpc.Authed) (identity.UserID, error) {
	auth := msg.GetAuth()
	if auth == nil {
		return identity.ZeroID, status.Error(codes.InvalidArgument, "missing auth")
	}
	userID, err := identity.FromBytes(auth.UserID)
	if err != nil {
		return identity.ZeroID, status.Error(codes.InvalidArgument, "invalid user_id length")
	}

	st := s.state(userID)
	st.authMu.Lock()
	defer st.authMu.Unlock()

	entry, err := s.auth.Get(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return identity.ZeroID, status.Error(codes.NotFound, "user not found")
		}
		return identity.ZeroID, status.Error(codes.Internal, err.Error())
	}

	if auth.Nonce != entry.Nonce {
		s.met.NonceRejections.Inc()
		s.met.AuthFailures.WithLabelValues("nonce").Inc()
		s.log.Warn("nonce mismatch",
			logging.KeyUserID, userID.ShortString(),
			logging.KeyMethod, method,
			logging.KeyNonce, auth.Nonce)
		return identity.ZeroID, status.Errorf(codes.Unauthenticated, "%v", ErrInvalidNonce)
	}

	if err := syncrpc.Verify(entry.PubKey, method, msg); err != nil {
		s.met.AuthFailures.WithLabelValues("signature").Inc()
		s.log.Warn("signature rejected",
			logging.KeyUserID, userID.ShortString(),
			logging.KeyMethod, method)
		return identity.ZeroID, status.Error(codes.Unauthenticated, "invalid signature")
	}

	// Persist the advanced nonce before the RPC body runs: even if the
	// request fails afterwards, its nonce is spent.
	if err := s.auth.SetNonce(userID, entry.Nonce+1); err != nil {
		return identity.ZeroID, status.Error(codes.Internal, err.Error())
	}

	return userID, nil
}

// observe wraps a handler body with metrics and logging.
func (s *Service) observe(method string, start time.Time, err error) {
	code := status.Code(err)
	s.met.RequestsTotal.WithLabelValues(method, code.String()).Inc()
	s.met.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.Debug("rpc failed",
			logging.KeyMethod, method,
			logging.KeyError, err,
			logging.KeyDuration, time.Since(start))
	}
}

// Register creates the caller's AuthEntry and returns the initial nonce.
func (s *Service) Register(ctx context.Context, req *syncrpc.RegisterRequest) (resp *syncrpc.RegisterResponse, err error) {
	defer func(start time.Time) { s.observe(syncrpc.MethodRegister, start, err) }(time.Now())

	if s.limiter != nil && !s.limiter.Allow() {
		return nil, status.Error(codes.ResourceExhausted, "registration rate exceeded")
	}

	userID, idErr := identity.FromBytes(req.UserID)
	if idErr != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid user_id length")
	}
	if len(req.PubKey) != syncrpc.PublicKeySize {
		return nil, status.Errorf(codes.InvalidArgument, "public key must be %d bytes", syncrpc.PublicKeySize)
	}

	nonce, regErr := s.auth.Register(userID, req.PubKey)
	if regErr != nil {
		if errors.Is(regErr, ErrAlreadyExists) {
			return nil, status.Error(codes.AlreadyExists, "user already registered")
		}
		return nil, status.Error(codes.Internal, regErr.Error())
	}

	// Create the user's data directory eagerly so operators can see the
	// tenant on disk right after registration.
	if _, stErr := s.storage(userID); stErr != nil {
		return nil, status.Error(codes.Internal, stErr.Error())
	}

	s.met.UsersRegistered.Inc()
	s.log.Info("user registered", logging.KeyUserID, userID.ShortString())
	return &syncrpc.RegisterResponse{Nonce: nonce}, nil
}

// GetNonce returns the stored nonce for a user, e.g. after a reconnect.
func (s *Service) GetNonce(ctx context.Context, req *syncrpc.GetNonceRequest) (resp *syncrpc.GetNonceResponse, err error) {
	defer func(start time.Time) { s.observe(syncrpc.MethodGetNonce, start, err) }(time.Now())

	userID, idErr := identity.FromBytes(req.UserID)
	if idErr != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid user_id length")
	}

	entry, getErr := s.auth.Get(userID)
	if getErr != nil {
		if errors.Is(getErr, ErrUserNotFound) {
			return nil, status.Error(codes.NotFound, "user not found")
		}
		return nil, status.Error(codes.Internal, getErr.Error())
	}
	return &syncrpc.GetNonceResponse{Nonce: entry.Nonce}, nil
}

// GetList lists the caller's record IDs and versions.
func (s *Service) GetList(ctx context.Context, req *syncrpc.GetListRequest) (resp *syncrpc.GetListResponse, err error) {
	defer func(start time.Time) { s.observe(syncrpc.MethodGetList, start, err) }(time.Now())

	userID, authErr := s.validateAuth(syncrpc.MethodGetList, req)
	if authErr != nil {
		return nil, authErr
	}

	storage, stErr := s.storage(userID)
	if stErr != nil {
		return nil, status.Error(codes.Internal, stErr.Error())
	}

	metas, listErr := storage.ListMeta()
	if listErr != nil {
		return nil, status.Error(codes.Internal, listErr.Error())
	}

	out := make([]syncrpc.RecordInfo, len(metas))
	for i, m := range metas {
		out[i] = syncrpc.RecordInfo{ID: m.ID, Ver: m.Ver}
	}
	return &syncrpc.GetListResponse{Records: out}, nil
}

// GetByID returns one record of the caller.
func (s *Service) GetByID(ctx context.Context, req *syncrpc.GetByIDRequest) (resp *syncrpc.GetByIDResponse, err error) {
	defer func(start time.Time) { s.observe(syncrpc.MethodGetByID, start, err) }(time.Now())

	userID, authErr := s.validateAuth(syncrpc.MethodGetByID, req)
	if authErr != nil {
		return nil, authErr
	}

	storage, stErr := s.storage(userID)
	if stErr != nil {
		return nil, status.Error(codes.Internal, stErr.Error())
	}

	cr, getErr := storage.Get(req.RecordID)
	if getErr != nil {
		if errors.Is(getErr, store.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "record not found")
		}
		return nil, status.Error(codes.Internal, getErr.Error())
	}
	return &syncrpc.GetByIDResponse{Record: syncrpc.ToWire(cr)}, nil
}

// GetAll returns every record of the caller.
func (s *Service) GetAll(ctx context.Context, req *syncrpc.GetAllRequest) (resp *syncrpc.GetAllResponse, err error) {
	defer func(start time.Time) { s.observe(syncrpc.MethodGetAll, start, err) }(time.Now())

	userID, authErr := s.validateAuth(syncrpc.MethodGetAll, req)
	if authErr != nil {
		return nil, authErr
	}

	storage, stErr := s.storage(userID)
	if stErr != nil {
		return nil, status.Error(codes.Internal, stErr.Error())
	}

	ids, listErr := storage.ListIDs()
	if listErr != nil {
		return nil, status.Error(codes.Internal, listErr.Error())
	}

	records := make([]*syncrpc.WireRecord, 0, len(ids))
	for _, id := range ids {
		cr, getErr := storage.Get(id)
		if getErr != nil {
			return nil, status.Error(codes.Internal, getErr.Error())
		}
		records = append(records, syncrpc.ToWire(cr))
	}
	return &syncrpc.GetAllResponse{Records: records}, nil
}

// SetOne upserts one record, stamping the authenticated owner.
func (s *Service) SetOne(ctx context.Context, req *syncrpc.SetOneRequest) (resp *syncrpc.SetOneResponse, err error) {
	defer func(start time.Time) { s.observe(syncrpc.MethodSetOne, start, err) }(time.Now())

	userID, authErr := s.validateAuth(syncrpc.MethodSetOne, req)
	if authErr != nil {
		return nil, authErr
	}
	if req.Record == nil {
		return nil, status.Error(codes.InvalidArgument, "missing record")
	}

	if setErr := s.putRecord(userID, req.Record); setErr != nil {
		return nil, setErr
	}
	return &syncrpc.SetOneResponse{}, nil
}

// SetRecords upserts a batch of records.
func (s *Service) SetRecords(ctx context.Context, req *syncrpc.SetRecordsRequest) (resp *syncrpc.SetRecordsResponse, err error) {
	defer func(start time.Time) { s.observe(syncrpc.MethodSetRecords, start, err) }(time.Now())

	userID, authErr := s.validateAuth(syncrpc.MethodSetRecords, req)
	if authErr != nil {
		return nil, authErr
	}

	for _, w := range req.Records {
		if w == nil {
			return nil, status.Error(codes.InvalidArgument, "missing record")
		}
		if setErr := s.putRecord(userID, w); setErr != nil {
			return nil, setErr
		}
	}
	return &syncrpc.SetRecordsResponse{}, nil
}

// putRecord stores one wire record under the authenticated user. The owner
// embedded in the stored record is always the authenticated user, never
// whatever the wire claimed.
func (s *Service) putRecord(userID identity.UserID, w *syncrpc.WireRecord) error {
	storage, err := s.storage(userID)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}

	cr, convErr := syncrpc.FromWire(w)
	if convErr != nil {
		return status.Error(codes.InvalidArgument, convErr.Error())
	}
	cr.UserID = userID

	if err := storage.Set(cr.RecordID, cr); err != nil {
		if errors.Is(err, record.ErrSerialize) {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	}
	s.met.RecordsWritten.Inc()
	return nil
}

// DeleteByID removes one record of the caller.
func (s *Service) DeleteByID(ctx context.Context, req *syncrpc.DeleteByIDRequest) (resp *syncrpc.DeleteResponse, err error) {
	defer func(start time.Time) { s.observe(syncrpc.MethodDeleteByID, start, err) }(time.Now())

	userID, authErr := s.validateAuth(syncrpc.MethodDeleteByID, req)
	if authErr != nil {
		return nil, authErr
	}

	storage, stErr := s.storage(userID)
	if stErr != nil {
		return nil, status.Error(codes.Internal, stErr.Error())
	}
	if delErr := storage.Remove(req.RecordID); delErr != nil {
		return nil, status.Error(codes.Internal, delErr.Error())
	}
	s.met.RecordsDeleted.Inc()
	return &syncrpc.DeleteResponse{}, nil
}

// DeleteAll removes every record of the caller, one by one so the delete
// counter stays honest.
func (s *Service) DeleteAll(ctx context.Context, req *syncrpc.DeleteAllRequest) (resp *syncrpc.DeleteResponse, err error) {
	defer func(start time.Time) { s.observe(syncrpc.MethodDeleteAll, start, err) }(time.Now())

	userID, authErr := s.validateAuth(syncrpc.MethodDeleteAll, req)
	if authErr != nil {
		return nil, authErr
	}

	storage, stErr := s.storage(userID)
	if stErr != nil {
		return nil, status.Error(codes.Internal, stErr.Error())
	}

	ids, listErr := storage.ListIDs()
	if listErr != nil {
		return nil, status.Error(codes.Internal, listErr.Error())
	}
	for _, id := range ids {
		if delErr := storage.Remove(id); delErr != nil {
			return nil, status.Error(codes.Internal, delErr.Error())
		}
		s.met.RecordsDeleted.Inc()
	}

	s.log.Info("deleted all records",
		logging.KeyUserID, userID.ShortString(),
		logging.KeyCount, len(ids))
	return &syncrpc.DeleteResponse{}, nil
}
