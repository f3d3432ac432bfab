package service

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/consentclick/kit"
)

// maxBody is the default request body cap of a Server.
const maxBody = 10 << 20

// RegisterHTTP mounts the service routes:
//
//	POST /v1/dismiss          {"url": ...}
//	POST /v1/inspect          {"url": ...} | {"html": ...} | text/html body
//	     /v1/controller/...   the controller routes, when configured
func (c *Consent) RegisterHTTP(r chi.Router) {
	r.Post("/v1/dismiss", c.serve(c.dismiss, func(r *http.Request) (any, error) {
		var req DismissRequest
		return &req, decodeJSON(r, &req)
	}))
	r.Post("/v1/inspect", c.serve(c.inspect, func(r *http.Request) (any, error) {
		var req InspectRequest
		if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "text/html" {
			body, err := io.ReadAll(r.Body)
			req.HTML = string(body)
			return &req, err
		}
		return &req, decodeJSON(r, &req)
	}))
	if c.ctrl != nil {
		r.Route("/v1/controller", c.ctrl.Routes)
	}
}

func (c *Consent) serve(ep kit.Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		if id := middleware.GetReqID(r.Context()); id != "" {
			ctx = kit.WithRequestID(ctx, id)
		}

		resp, err := ep(ctx, req)
		if err != nil {
			writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
