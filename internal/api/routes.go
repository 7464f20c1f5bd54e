package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// CommandRequest is the body of POST /v1/commands.
type CommandRequest struct {
	Args []string `json:"args"`
}

// CommandResponse carries the rendered reply of one command.
type CommandResponse struct {
	Reply any `json:"reply"`
}

// KeyValue is the wire form of a versioned string. Key and Value are
// standard base64.
type KeyValue struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version int64  `json:"version"`
	Flags   *int64 `json:"flags,omitempty"`
}

// PutKeyJSONRequestBody is the body of PUT /v1/keys/{key}.
type PutKeyJSONRequestBody struct {
	Value string `json:"value"`
	Flags *int64 `json:"flags,omitempty"`
	TTLMs *int64 `json:"ttl_ms,omitempty"`
}

// PutKeyParams holds the query parameters of PUT /v1/keys/{key}.
type PutKeyParams struct {
	Version *int64 `form:"version,omitempty" json:"version,omitempty"`
}

// DeleteKeyParams holds the query parameters of DELETE /v1/keys/{key}.
type DeleteKeyParams struct {
	Version *int64 `form:"version,omitempty" json:"version,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Run one command
	// (POST /v1/commands)
	RunCommand(w http.ResponseWriter, r *http.Request)
	// Delete a key, optionally only at a given version
	// (DELETE /v1/keys/{key})
	DeleteKey(w http.ResponseWriter, r *http.Request, key string, params DeleteKeyParams)
	// Read a key with its version and flags
	// (GET /v1/keys/{key})
	GetKey(w http.ResponseWriter, r *http.Request, key string)
	// Write a key, optionally only at a given version
	// (PUT /v1/keys/{key})
	PutKey(w http.ResponseWriter, r *http.Request, key string, params PutKeyParams)
}

// Unimplemented answers 501 for every operation.
type Unimplemented struct{}

func (Unimplemented) RunCommand(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
}

func (Unimplemented) DeleteKey(w http.ResponseWriter, r *http.Request, key string, params DeleteKeyParams) {
	w.WriteHeader(http.StatusNotImplemented)
}

func (Unimplemented) GetKey(w http.ResponseWriter, r *http.Request, key string) {
	w.WriteHeader(http.StatusNotImplemented)
}

func (Unimplemented) PutKey(w http.ResponseWriter, r *http.Request, key string, params PutKeyParams) {
	w.WriteHeader(http.StatusNotImplemented)
}

// ServerInterfaceWrapper converts path and query parameters before calling
// the ServerInterface.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

type MiddlewareFunc func(http.Handler) http.Handler

func (siw *ServerInterfaceWrapper) wrap(h http.Handler) http.Handler {
	for _, middleware := range siw.HandlerMiddlewares {
		h = middleware(h)
	}
	return h
}

func (siw *ServerInterfaceWrapper) RunCommand(w http.ResponseWriter, r *http.Request) {
	siw.wrap(http.HandlerFunc(siw.Handler.RunCommand)).ServeHTTP(w, r)
}

func (siw *ServerInterfaceWrapper) DeleteKey(w http.ResponseWriter, r *http.Request) {
	var key string
	err := runtime.BindStyledParameterWithLocation("simple", false, "key", runtime.ParamLocationPath, chi.URLParam(r, "key"), &key)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "key", Err: err})
		return
	}

	var params DeleteKeyParams
	err = runtime.BindQueryParameter("form", true, false, "version", r.URL.Query(), &params.Version)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "version", Err: err})
		return
	}

	siw.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.DeleteKey(w, r, key, params)
	})).ServeHTTP(w, r)
}

func (siw *ServerInterfaceWrapper) GetKey(w http.ResponseWriter, r *http.Request) {
	var key string
	err := runtime.BindStyledParameterWithLocation("simple", false, "key", runtime.ParamLocationPath, chi.URLParam(r, "key"), &key)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "key", Err: err})
		return
	}

	siw.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetKey(w, r, key)
	})).ServeHTTP(w, r)
}

func (siw *ServerInterfaceWrapper) PutKey(w http.ResponseWriter, r *http.Request) {
	var key string
	err := runtime.BindStyledParameterWithLocation("simple", false, "key", runtime.ParamLocationPath, chi.URLParam(r, "key"), &key)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "key", Err: err})
		return
	}

	var params PutKeyParams
	err = runtime.BindQueryParameter("form", true, false, "version", r.URL.Query(), &params.Version)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "version", Err: err})
		return
	}

	siw.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.PutKey(w, r, key, params)
	})).ServeHTTP(w, r)
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// Handler creates http.Handler with routing matching the API.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

// HandlerWithOptions creates http.Handler with additional options.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/commands", wrapper.RunCommand)
	})
	r.Group(func(r chi.Router) {
		r.Delete(options.BaseURL+"/v1/keys/{key}", wrapper.DeleteKey)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/v1/keys/{key}", wrapper.GetKey)
	})
	r.Group(func(r chi.Router) {
		r.Put(options.BaseURL+"/v1/keys/{key}", wrapper.PutKey)
	})

	return r
}
