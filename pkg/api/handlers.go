package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/joestubbs/tagent/pkg/acl"
	"github.com/joestubbs/tagent/pkg/store"
)

// handleReady reports agent liveness. The only unauthenticated endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.resp.OK(w, "tagent ready.", "None")
}

// AclRequest is the JSON body of create and update operations. Action and
// decision arrive as strings and are parsed against their closed
// enumerations at the boundary.
type AclRequest struct {
	Subject  string `json:"subject"`
	User     string `json:"user"`
	Path     string `json:"path"`
	Action   string `json:"action"`
	Decision string `json:"decision"`
}

func (req *AclRequest) toNewAcl() (store.NewAcl, error) {
	if req.Path == "" {
		return store.NewAcl{}, fmt.Errorf("path must not be empty")
	}
	action, err := acl.ParseAction(req.Action)
	if err != nil {
		return store.NewAcl{}, err
	}
	decision, err := acl.ParseDecision(req.Decision)
	if err != nil {
		return store.NewAcl{}, err
	}
	return store.NewAcl{
		Subject:  req.Subject,
		User:     req.User,
		Path:     req.Path,
		Action:   action,
		Decision: decision,
	}, nil
}

func (s *Server) decodeAclRequest(r *http.Request) (store.NewAcl, *AgentError) {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	var req AclRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return store.NewAcl{}, Wrap(KindInputInvalid, err, "invalid request body")
	}
	n, err := req.toNewAcl()
	if err != nil {
		return store.NewAcl{}, Wrap(KindInputInvalid, err, "invalid acl")
	}
	return n, nil
}

func (s *Server) aclID(r *http.Request) (int64, *AgentError) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, Errf(KindInputInvalid, "invalid acl id %q; must be an integer", raw)
	}
	return id, nil
}

func (s *Server) handleCreateACL(w http.ResponseWriter, r *http.Request) {
	subject, aerr := s.subject(r)
	if aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	n, aerr := s.decodeAclRequest(r)
	if aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	id, err := s.Store.Insert(r.Context(), n, subject)
	if err != nil {
		s.resp.Error(w, Wrap(KindStorageError, err, "could not create acl"))
		return
	}
	s.Log.Info("acl created", "acl_id", id, "create_by", subject)
	s.resp.OK(w, "ACL created successfully.", strconv.FormatInt(id, 10))
}

func (s *Server) handleListACLs(w http.ResponseWriter, r *http.Request) {
	if _, aerr := s.subject(r); aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	acls, err := s.Store.ListAll(r.Context())
	if err != nil {
		s.resp.Error(w, Wrap(KindStorageError, err, "could not list acls"))
		return
	}
	if acls == nil {
		acls = []acl.Acl{}
	}
	s.resp.OK(w, "ACLs retrieved successfully.", acls)
}

func (s *Server) handleGetACL(w http.ResponseWriter, r *http.Request) {
	if _, aerr := s.subject(r); aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	id, aerr := s.aclID(r)
	if aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	a, err := s.Store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.resp.Error(w, Wrap(KindNotFound, err, fmt.Sprintf("no acl with id %d", id)))
			return
		}
		s.resp.Error(w, Wrap(KindStorageError, err, "could not load acl"))
		return
	}
	s.resp.OK(w, "ACL retrieved successfully.", a)
}

func (s *Server) handleUpdateACL(w http.ResponseWriter, r *http.Request) {
	subject, aerr := s.subject(r)
	if aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	id, aerr := s.aclID(r)
	if aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	n, aerr := s.decodeAclRequest(r)
	if aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	count, err := s.Store.UpdateByID(r.Context(), id, n, subject)
	if err != nil {
		s.resp.Error(w, Wrap(KindStorageError, err, "could not update acl"))
		return
	}
	if count == 0 {
		s.resp.Error(w, Errf(KindNotFound, "no acl with id %d", id))
		return
	}
	s.Log.Info("acl updated", "acl_id", id, "create_by", subject)
	s.resp.OK(w, "ACL updated successfully.", strconv.FormatInt(count, 10))
}

func (s *Server) handleDeleteACL(w http.ResponseWriter, r *http.Request) {
	if _, aerr := s.subject(r); aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	id, aerr := s.aclID(r)
	if aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	count, err := s.Store.DeleteByID(r.Context(), id)
	if err != nil {
		s.resp.Error(w, Wrap(KindStorageError, err, "could not delete acl"))
		return
	}
	if count == 0 {
		s.resp.Error(w, Errf(KindNotFound, "no acl with id %d", id))
		return
	}
	s.Log.Info("acl deleted", "acl_id", id)
	s.resp.OK(w, "ACL deleted successfully.", strconv.FormatInt(count, 10))
}

func (s *Server) handleListACLsForSubject(w http.ResponseWriter, r *http.Request) {
	if _, aerr := s.subject(r); aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	acls, err := s.Store.ListBySubject(r.Context(), r.PathValue("subject"))
	if err != nil {
		s.resp.Error(w, Wrap(KindStorageError, err, "could not list acls"))
		return
	}
	if acls == nil {
		acls = []acl.Acl{}
	}
	s.resp.OK(w, "ACLs retrieved successfully.", acls)
}

func (s *Server) handleListACLsForSubjectUser(w http.ResponseWriter, r *http.Request) {
	if _, aerr := s.subject(r); aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	acls, err := s.Store.ListBySubjectAndUser(r.Context(), r.PathValue("subject"), r.PathValue("user"))
	if err != nil {
		s.resp.Error(w, Wrap(KindStorageError, err, "could not list acls"))
		return
	}
	if acls == nil {
		acls = []acl.Acl{}
	}
	s.resp.OK(w, "ACLs retrieved successfully.", acls)
}

// handleIsAuthz runs the decision engine for the requested tuple. The
// endpoint answers for any tuple; only the caller's identity is verified.
func (s *Server) handleIsAuthz(w http.ResponseWriter, r *http.Request) {
	if _, aerr := s.subject(r); aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	action, err := acl.ParseAction(r.PathValue("action"))
	if err != nil {
		s.resp.Error(w, Wrap(KindInputInvalid, err, "invalid action"))
		return
	}
	subject := r.PathValue("subject")
	user := r.PathValue("user")
	path := acl.NormalizePath(r.PathValue("path"))

	answer, err := s.Engine.Decide(r.Context(), subject, user, action, path)
	if err != nil {
		s.resp.Error(w, Wrap(KindPolicyCheckError, err, "authorization check failed"))
		return
	}
	s.resp.OK(w, "Authorization check completed successfully.", answer)
}
