package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/joestubbs/tagent/pkg/acl"
	"github.com/joestubbs/tagent/pkg/auth"
	"github.com/joestubbs/tagent/pkg/files"
	"github.com/joestubbs/tagent/pkg/store"
)

// Server wires the agent's HTTP surface. All fields are read-only after
// startup; per-request state lives on the request.
type Server struct {
	Verifier *auth.Verifier
	Store    *store.AclStore
	Engine   *acl.Engine
	Files    *files.Gate

	// EnforceFilePolicy controls whether file operations consult the
	// decision engine after identity extraction.
	EnforceFilePolicy bool

	Log  *slog.Logger
	resp Responder
}

// NewServer builds a server for the given collaborators. version is the
// agent's semantic version, stamped on every envelope.
func NewServer(version string, verifier *auth.Verifier, st *store.AclStore, engine *acl.Engine, gate *files.Gate, enforceFilePolicy bool, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Verifier:          verifier,
		Store:             st,
		Engine:            engine,
		Files:             gate,
		EnforceFilePolicy: enforceFilePolicy,
		Log:               log,
		resp:              Responder{Version: version, Log: log},
	}
}

// Routes returns the agent's handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// status routes
	mux.HandleFunc("GET /status/ready", s.handleReady)

	// acls routes
	mux.HandleFunc("POST /acls", s.handleCreateACL)
	mux.HandleFunc("GET /acls", s.handleListACLs)
	mux.HandleFunc("GET /acls/{id}", s.handleGetACL)
	mux.HandleFunc("PUT /acls/{id}", s.handleUpdateACL)
	mux.HandleFunc("DELETE /acls/{id}", s.handleDeleteACL)
	mux.HandleFunc("GET /acls/subject/{subject}", s.handleListACLsForSubject)
	mux.HandleFunc("GET /acls/subject/{subject}/{user}", s.handleListACLsForSubjectUser)
	mux.HandleFunc("GET /acls/isauthz/{subject}/{user}/{action}/{path...}", s.handleIsAuthz)

	// files routes
	mux.HandleFunc("GET /files/list/{path...}", s.handleListFiles)
	mux.HandleFunc("GET /files/contents/{path...}", s.handleDownload)
	mux.HandleFunc("POST /files/contents/{path...}", s.handleUpload)

	// Unknown paths get a 400 envelope with a descriptive error rather
	// than the mux's plain 404.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.resp.Error(w, Errf(KindNotImplemented, "unrecognized route: %s %s", r.Method, r.URL.Path))
	})

	return withRequestID(s.logRequests(mux))
}

// subject resolves the caller's identity or classifies the token failure.
func (s *Server) subject(r *http.Request) (string, *AgentError) {
	sub, err := s.Verifier.SubjectOf(r)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			return "", Wrap(KindAuthMissing, err, "authentication failed")
		}
		return "", Wrap(KindAuthInvalid, err, "authentication failed")
	}
	return sub, nil
}
