// Package httpapi implements the HTTP Front (spec.md §4.1/§6, C11): the
// /control and /mpi endpoints that wrap the AES-EAX envelope (C2) around
// the control orchestrator (C9/C8/C10), grounded on
// original_source/stembot/controller/mpi.py's Control/MPI CherryPy
// handlers and on cellorg's routing/handler conventions, using
// github.com/gorilla/mux instead of CherryPy's dispatcher. Each request
// is wrapped in an otel span (go.opentelemetry.io/otel), following the
// teacher's practice of instrumenting its control plane.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/phnomcobra/stembot/internal/control"
	"github.com/phnomcobra/stembot/internal/crypto"
	"github.com/phnomcobra/stembot/internal/errs"
	"github.com/phnomcobra/stembot/internal/logging"
	"github.com/phnomcobra/stembot/internal/types"
)

// Server is the HTTP front. Content-Type is irrelevant; the server reads
// the envelope from the body and the Nonce/Tag headers (spec.md §6).
type Server struct {
	key      []byte
	ctl      *control.Orchestrator
	log      *logging.Logger
	mux      *mux.Router
	tracer   trace.Tracer
	requests metric.Int64Counter
}

// New builds a Server keyed by the agent's derived 128-bit key.
func New(key []byte, ctl *control.Orchestrator, log *logging.Logger) *Server {
	meter := otel.Meter("github.com/phnomcobra/stembot/internal/httpapi")
	requests, err := meter.Int64Counter("stembot.httpapi.requests",
		metric.WithDescription("HTTP front requests by endpoint and outcome"))
	if err != nil && log != nil {
		log.Error("otel counter init: %v", err)
	}

	s := &Server{
		key:      key,
		ctl:      ctl,
		log:      log,
		mux:      mux.NewRouter(),
		tracer:   otel.Tracer("github.com/phnomcobra/stembot/internal/httpapi"),
		requests: requests,
	}
	s.mux.HandleFunc("/control", s.handleControl).Methods(http.MethodPost)
	s.mux.HandleFunc("/mpi", s.handleMPI).Methods(http.MethodPost)
	return s
}

// countRequest records one request against the otel counter, tolerating a
// nil counter (meter init failure is logged, not fatal).
func (s *Server) countRequest(ctx context.Context, endpoint, outcome string) {
	if s.requests == nil {
		return
	}
	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// readEnvelope decodes+verifies the request body per spec.md §4.1: tag
// verification is mandatory before any JSON parsing, and a failure aborts
// with no observable response state beyond a logged error (HTTP 500, no
// body).
func (s *Server) readEnvelope(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &errs.EnvelopeError{Cause: err}
	}
	plaintext, err := crypto.DecodeEnvelope(s.key, string(body), r.Header.Get("Nonce"), r.Header.Get("Tag"))
	if err != nil {
		return nil, &errs.EnvelopeError{Cause: err}
	}
	return plaintext, nil
}

// writeEnvelope seals payload with a fresh nonce and writes it as the
// response body plus Nonce/Tag headers (spec.md §4.1).
func (s *Server) writeEnvelope(w http.ResponseWriter, payload any) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("encoding response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	body, nonceB64, tagB64, err := crypto.EncodeEnvelope(s.key, plaintext)
	if err != nil {
		s.log.Error("sealing response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Nonce", nonceB64)
	w.Header().Set("Tag", tagB64)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "httpapi.control")
	defer span.End()

	plaintext, err := s.readEnvelope(r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "envelope decode failed")
		s.log.Error("control envelope: %v", err)
		s.countRequest(ctx, "control", "envelope_error")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var form types.Form
	if jerr := json.Unmarshal(plaintext, &form); jerr != nil {
		verr := &errs.ValidationError{Cause: jerr}
		span.RecordError(verr)
		span.SetStatus(codes.Error, "payload decode failed")
		s.log.Error("control payload: %v", verr)
		s.countRequest(ctx, "control", "decode_error")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.String("stembot.form_type", string(form.Type)))

	result := s.ctl.HandleControlForm(form)
	if result.Error != "" {
		span.SetAttributes(attribute.String("stembot.form_error", result.Error))
	}
	s.countRequest(ctx, "control", "ok")
	s.writeEnvelope(w, result)
}

func (s *Server) handleMPI(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "httpapi.mpi")
	defer span.End()

	plaintext, err := s.readEnvelope(r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "envelope decode failed")
		s.log.Error("mpi envelope: %v", err)
		s.countRequest(ctx, "mpi", "envelope_error")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var msg types.NetworkMessage
	if jerr := json.Unmarshal(plaintext, &msg); jerr != nil {
		verr := &errs.ValidationError{Cause: jerr}
		span.RecordError(verr)
		span.SetStatus(codes.Error, "payload decode failed")
		s.log.Error("mpi payload: %v", verr)
		s.countRequest(ctx, "mpi", "decode_error")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	span.SetAttributes(attribute.String("stembot.message_type", string(msg.Type)))

	reply, err := s.ctl.HandleNetworkMessage(msg)
	if err != nil {
		// process()/Route() itself never returns an error for ordinary
		// handler failures (those become ACKNOWLEDGEMENT.error); reaching
		// here means a store/infra failure, not a HandlerError.
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing failed")
		s.log.Error("routing %s: %v", msg.Type, err)
		s.countRequest(ctx, "mpi", "route_error")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.countRequest(ctx, "mpi", "ok")
	s.writeEnvelope(w, reply)
}
