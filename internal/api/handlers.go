package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"exstrkv/internal/exstring"
	"exstrkv/internal/logging"
)

const maxBodyBytes = 16 << 20

// Executor runs one command. *exstring.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, args []string) (exstring.Reply, error)
}

// Handlers implements ServerInterface on top of an Executor. Every
// endpoint is a thin translation to one command so HTTP and RESP clients
// observe identical semantics.
type Handlers struct {
	exec Executor
	log  *logging.Logger
}

var _ ServerInterface = (*Handlers)(nil)

func NewHandlers(exec Executor, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.WithComponent("http")
	}
	return &Handlers{exec: exec, log: logger}
}

func (h *Handlers) RunCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.Args) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "args must not be empty"})
		return
	}
	reply, err := h.exec.Execute(r.Context(), req.Args)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{Reply: render(reply)})
}

func (h *Handlers) GetKey(w http.ResponseWriter, r *http.Request, key string) {
	k, err := decodeKey(key)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	reply, err := h.exec.Execute(r.Context(), []string{"EXGET", k, "WITHFLAGS"})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	arr, ok := reply.(exstring.Array)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "key not found"})
		return
	}
	value, _ := arr[0].(exstring.Bulk)
	version, _ := arr[1].(exstring.Int)
	flags, _ := arr[2].(exstring.Int)
	f := int64(flags)
	writeJSON(w, http.StatusOK, KeyValue{
		Key:     base64.StdEncoding.EncodeToString([]byte(k)),
		Value:   base64.StdEncoding.EncodeToString(value),
		Version: int64(version),
		Flags:   &f,
	})
}

func (h *Handlers) PutKey(w http.ResponseWriter, r *http.Request, key string, params PutKeyParams) {
	k, err := decodeKey(key)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	var body PutKeyJSONRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	value, err := base64.StdEncoding.DecodeString(body.Value)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "value is not valid base64"})
		return
	}

	args := []string{"EXSET", k, string(value)}
	if body.TTLMs != nil {
		args = append(args, "PX", strconv.FormatInt(*body.TTLMs, 10))
	}
	if params.Version != nil {
		args = append(args, "VER", strconv.FormatInt(*params.Version, 10))
	}
	if body.Flags != nil {
		args = append(args, "FLAGS", strconv.FormatInt(*body.Flags, 10))
	}
	args = append(args, "WITHVERSION")

	reply, err := h.exec.Execute(r.Context(), args)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	version, ok := reply.(exstring.Int)
	if !ok {
		h.writeError(w, r, fmt.Errorf("unexpected reply %T to EXSET", reply))
		return
	}
	writeJSON(w, http.StatusOK, KeyValue{
		Key:     base64.StdEncoding.EncodeToString([]byte(k)),
		Value:   body.Value,
		Version: int64(version),
		Flags:   body.Flags,
	})
}

func (h *Handlers) DeleteKey(w http.ResponseWriter, r *http.Request, key string, params DeleteKeyParams) {
	k, err := decodeKey(key)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	args := []string{"DEL", k}
	if params.Version != nil {
		args = []string{"EXCAD", k, strconv.FormatInt(*params.Version, 10)}
	}
	reply, err := h.exec.Execute(r.Context(), args)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	n, _ := reply.(exstring.Int)
	switch {
	case n == 1:
		w.WriteHeader(http.StatusNoContent)
	case n == 0 && params.Version != nil:
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "version mismatch"})
	default:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "key not found"})
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.LogError(r.Context(), err, "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, exstring.ErrReplication):
		return http.StatusServiceUnavailable
	case errors.Is(err, exstring.ErrVersion), errors.Is(err, exstring.ErrWrongType):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	var ce *exstring.CommandError
	if errors.As(err, &ce) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// render maps a reply onto JSON values: statuses and bulk strings become
// strings, integers numbers, nil replies null.
func render(reply exstring.Reply) any {
	switch v := reply.(type) {
	case exstring.Status:
		return string(v)
	case exstring.Int:
		return int64(v)
	case exstring.Bulk:
		return string(v)
	case exstring.Array:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = render(item)
		}
		return out
	default:
		return nil
	}
}

// decodeKey accepts the unpadded URL-safe base64 form used in paths,
// with or without padding.
func decodeKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("key must not be empty")
	}
	enc := base64.RawURLEncoding
	if len(key)%4 == 0 && key[len(key)-1] == '=' {
		enc = base64.URLEncoding
	}
	b, err := enc.DecodeString(key)
	if err != nil {
		return "", errors.New("key is not valid base64url")
	}
	return string(b), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
