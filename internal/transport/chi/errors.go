package chi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docq"
	"github.com/kailas-cloud/docq/internal/logger"
)

type errorCode string

const (
	codeBadRequest       errorCode = "bad_request"
	codeUnauthorized     errorCode = "unauthorized"
	codeNotFound         errorCode = "not_found"
	codeUnsupported      errorCode = "unsupported_query"
	codeInvalidQuery     errorCode = "invalid_query"
	codeConversion       errorCode = "conversion_failed"
	codeNoElements       errorCode = "no_elements"
	codeMultipleElements errorCode = "multiple_elements"
	codeAlreadyExists    errorCode = "already_exists"
	codeGateway          errorCode = "store_unavailable"
	codeInternal         errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// errorHandlers are consulted in order. Query errors describe the request,
// so their message is returned; store and internal errors are not.
var errorHandlers = []errorHandler{
	sentinelHandler(docq.ErrExists, http.StatusConflict, codeAlreadyExists, false),
	sentinelHandler(docq.ErrUnsupported, http.StatusBadRequest, codeUnsupported, true),
	sentinelHandler(docq.ErrInvalidPlan, http.StatusBadRequest, codeInvalidQuery, true),
	sentinelHandler(docq.ErrInvalidSchema, http.StatusBadRequest, codeInvalidQuery, true),
	sentinelHandler(docq.ErrConversion, http.StatusUnprocessableEntity, codeConversion, true),
	sentinelHandler(docq.ErrNotFound, http.StatusNotFound, codeNotFound, true),
	sentinelHandler(docq.ErrNoElements, http.StatusNotFound, codeNoElements, false),
	sentinelHandler(docq.ErrMultipleElements, http.StatusConflict, codeMultipleElements, false),
	sentinelHandler(docq.ErrGateway, http.StatusBadGateway, codeGateway, false),
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode, detailed bool) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		msg := sentinel.Error()
		if detailed {
			msg = err.Error()
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	for _, h := range errorHandlers {
		if h(w, err) {
			log.Debug("request failed", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
