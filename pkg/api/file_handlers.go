package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/joestubbs/tagent/pkg/acl"
	"github.com/joestubbs/tagent/pkg/files"
)

// checkFilePolicy consults the decision engine for a file operation on the
// resolved absolute path. The end-user defaults to "self" when the caller
// does not supply a ?user= query parameter. A denial or a failed check both
// reject the operation; the gate never fails open.
func (s *Server) checkFilePolicy(r *http.Request, subject string, action acl.Action, absPath string) *AgentError {
	if !s.EnforceFilePolicy {
		return nil
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		user = "self"
	}
	answer, err := s.Engine.Decide(r.Context(), subject, user, action, absPath)
	if err != nil {
		return Wrap(KindPolicyCheckError, err, "authorization check failed")
	}
	if !answer.Allowed {
		return Errf(KindNotAuthorized, "subject %s is not authorized for %s on %s (user %s)",
			subject, action.String(), absPath, user)
	}
	return nil
}

func classifyFileError(err error) *AgentError {
	switch {
	case errors.Is(err, files.ErrNotExist):
		return Wrap(KindNotFound, err, "invalid path")
	case errors.Is(err, files.ErrIsDirectory), errors.Is(err, files.ErrNotDirectory):
		return Wrap(KindInputInvalid, err, "invalid path")
	default:
		return Wrap(KindIOError, err, "file operation failed")
	}
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	subject, aerr := s.subject(r)
	if aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	rel := r.PathValue("path")
	if aerr := s.checkFilePolicy(r, subject, acl.ActionRead, s.Files.Resolve(rel)); aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	names, err := s.Files.List(rel)
	if err != nil {
		s.resp.Error(w, classifyFileError(err))
		return
	}
	s.resp.OK(w, "File listing retrieved successfully.", names)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	subject, aerr := s.subject(r)
	if aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	rel := r.PathValue("path")
	if aerr := s.checkFilePolicy(r, subject, acl.ActionRead, s.Files.Resolve(rel)); aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	f, info, err := s.Files.Open(rel)
	if err != nil {
		s.resp.Error(w, classifyFileError(err))
		return
	}
	defer func() { _ = f.Close() }()
	// Streamed, not enveloped; range requests come for free.
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	subject, aerr := s.subject(r)
	if aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	rel := r.PathValue("path")
	if aerr := s.checkFilePolicy(r, subject, acl.ActionWrite, s.Files.Resolve(rel)); aerr != nil {
		s.resp.Error(w, aerr)
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		s.resp.Error(w, Wrap(KindInputInvalid, err, "request body must be multipart/form-data"))
		return
	}
	written, err := s.Files.SaveMultipart(rel, mr)
	if err != nil {
		s.resp.Error(w, classifyFileError(err))
		return
	}
	s.Log.Info("files uploaded", "count", len(written), "subject", subject)
	s.resp.OK(w, fmt.Sprintf("file uploaded to %v successfully.", written), "none")
}
