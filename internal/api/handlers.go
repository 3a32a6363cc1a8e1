package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	clierr "github.com/ggonzalez94/swapguard/internal/errors"
	"github.com/ggonzalez94/swapguard/internal/model"
	"github.com/ggonzalez94/swapguard/internal/out"
	"github.com/ggonzalez94/swapguard/internal/recovery"
	"github.com/ggonzalez94/swapguard/internal/schema"
	"github.com/ggonzalez94/swapguard/internal/validate"
	"github.com/ggonzalez94/swapguard/internal/version"
)

const maxBodyBytes = 64 << 10

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": version.CLIName,
		"version": version.CLIVersion,
	}, nil)
}

func (s *Server) listChains(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.gate.Chains(), nil)
}

func (s *Server) chainTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.gate.ChainTokens(chi.URLParam(r, "chain"))
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.respond(w, r, http.StatusOK, tokens, nil)
}

func (s *Server) bestChain(w http.ResponseWriter, r *http.Request) {
	sel, err := s.gate.BestChain(chi.URLParam(r, "token"), "")
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.respond(w, r, http.StatusOK, sel, nil)
}

func (s *Server) checkToken(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, s.gate.CheckToken(chi.URLParam(r, "token"), r.URL.Query().Get("chain")), nil)
}

func (s *Server) bestPairChain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in, outToken := q.Get("in"), q.Get("out")
	if strings.TrimSpace(outToken) == "" {
		s.fail(w, r, clierr.New(clierr.CodeUsage, "query parameters in and out are required"), nil)
		return
	}
	sel, err := s.gate.BestChain(in, outToken)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.respond(w, r, http.StatusOK, sel, nil)
}

func (s *Server) tools(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, schema.Tools(s.gate.Registry()), nil)
}

type screenRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func (s *Server) screen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "http"
	}
	id := s.clientID(r)
	res, err := s.gate.Screen(r.Context(), id, source, req.Text)
	if err != nil {
		if clierr.HasCode(err, clierr.CodeRateLimited) {
			wait := s.gate.Limiter().RetryAfter(id)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			s.fail(w, r, err, nil)
			return
		}
		// The detection result is returned without the sanitized text.
		res.Sanitized = ""
		s.fail(w, r, err, res)
		return
	}
	var warnings []string
	if res.Detection.Detected {
		warnings = append(warnings, res.Detection.AdvisoryMessage)
	}
	s.respond(w, r, http.StatusOK, res, warnings)
}

func (s *Server) validateTool(w http.ResponseWriter, r *http.Request) {
	call, err := readToolCall(r)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	res, err := s.gate.Validate(r.Context(), call)
	if err != nil {
		s.fail(w, r, err, res)
		return
	}
	s.respond(w, r, http.StatusOK, res, res.Warnings)
}

func (s *Server) proposeTool(w http.ResponseWriter, r *http.Request) {
	call, err := readToolCall(r)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	p, err := s.gate.Propose(r.Context(), call)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	status := http.StatusOK
	if p.Approval != nil {
		status = http.StatusCreated
	}
	s.respond(w, r, status, p, p.Warnings)
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	a, err := s.gate.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.respond(w, r, http.StatusOK, a, nil)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	a, err := s.gate.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.respond(w, r, http.StatusOK, a, nil)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	a, err := s.gate.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.respond(w, r, http.StatusOK, a, nil)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	call, err := readToolCall(r)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	a, err := s.gate.Reset(r.Context(), chi.URLParam(r, "id"), call)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.respond(w, r, http.StatusCreated, a, nil)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	var call *validate.ToolCall
	if len(bytes.TrimSpace(raw)) > 0 {
		parsed, err := validate.ParseToolCall(raw)
		if err != nil {
			s.fail(w, r, err, nil)
			return
		}
		call = &parsed
	}
	receipt, err := s.gate.Submit(r.Context(), chi.URLParam(r, "id"), call)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	s.respond(w, r, http.StatusOK, receipt, nil)
}

type planRequest struct {
	Steps []validate.ToolCall `json:"steps"`
}

func (s *Server) runPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	p, err := s.gate.RunPlan(r.Context(), req.Steps)
	if err != nil {
		if p != nil {
			s.fail(w, r, err, p)
			return
		}
		s.fail(w, r, err, nil)
		return
	}
	s.respond(w, r, http.StatusOK, p, nil)
}

type classifyRequest struct {
	Message string `json:"message"`
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.fail(w, r, clierr.New(clierr.CodeUsage, "message is required"), nil)
		return
	}
	s.respond(w, r, http.StatusOK, recovery.Classify(errors.New(req.Message)), nil)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, data any, warnings []string) {
	s.write(w, r, status, model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta:     meta(r),
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, data any) {
	body := out.ErrorBody(err)
	status := httpStatus(err)
	if status >= 500 {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	s.write(w, r, status, model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    data,
		Error:   body,
		Meta:    meta(r),
	})
}

func (s *Server) write(w http.ResponseWriter, _ *http.Request, status int, env model.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Warn().Err(err).Msg("write response")
	}
}

func meta(r *http.Request) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: chimw.GetReqID(r.Context()),
		Timestamp: time.Now().UTC(),
		Command:   r.Method + " " + r.URL.Path,
	}
}

// httpStatus maps typed errors to HTTP statuses. Errors that reached the
// classifier without a type are reported by their recovery category.
func httpStatus(err error) int {
	if typed, ok := clierr.As(err); ok {
		switch typed.Code {
		case clierr.CodeUsage, clierr.CodePlanLimit:
			return http.StatusBadRequest
		case clierr.CodeValidation, clierr.CodePlanFailed:
			return http.StatusUnprocessableEntity
		case clierr.CodeInputRejected, clierr.CodeBlocked:
			return http.StatusForbidden
		case clierr.CodeApprovalRequired:
			return http.StatusConflict
		case clierr.CodeNotFound:
			return http.StatusNotFound
		case clierr.CodeRateLimited:
			return http.StatusTooManyRequests
		case clierr.CodeUnsupported:
			return http.StatusBadRequest
		case clierr.CodeUnavailable:
			return http.StatusServiceUnavailable
		}
	}
	switch recovery.Classify(err).Category {
	case recovery.CategoryNetwork, recovery.CategoryTimeout:
		return http.StatusBadGateway
	case recovery.CategoryRateLimit:
		return http.StatusTooManyRequests
	case recovery.CategoryWallet, recovery.CategoryTransaction, recovery.CategoryValidation:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "read request body", err)
	}
	if len(raw) > maxBodyBytes {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes))
	}
	return raw, nil
}

// decodeJSON keeps numbers as json.Number so amounts are not rounded
// through float64.
func decodeJSON(r *http.Request, dst any) error {
	raw, err := readBody(r)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "invalid json body", err)
	}
	return nil
}

func readToolCall(r *http.Request) (validate.ToolCall, error) {
	raw, err := readBody(r)
	if err != nil {
		return validate.ToolCall{}, err
	}
	return validate.ParseToolCall(raw)
}
