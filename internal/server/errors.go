package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	goahttp "goa.design/goa/v3/http"
	goamiddleware "goa.design/goa/v3/middleware"
	goa "goa.design/goa/v3/pkg"

	"talwar/internal/services"
)

// ErrorBody is the JSON body of every error response
type ErrorBody struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

var statusByName = map[string]int{
	services.ErrNameBadRequest:   http.StatusBadRequest,
	services.ErrNameUnauthorized: http.StatusUnauthorized,
	services.ErrNameForbidden:    http.StatusForbidden,
	services.ErrNameNotFound:     http.StatusNotFound,
	services.ErrNameConflict:     http.StatusConflict,
	services.ErrNameRateLimited:  http.StatusTooManyRequests,
	services.ErrNameUnavailable:  http.StatusServiceUnavailable,
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(goamiddleware.RequestIDKey).(string)
	return id
}

// writeError encodes err as an ErrorBody. Faults are logged and their
// cause is not sent to the client.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var se *goa.ServiceError
	if !errors.As(err, &se) {
		se = services.Internal(err)
	}

	status, ok := statusByName[se.Name]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := ErrorBody{Name: se.Name, ID: se.ID, Message: se.Message}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(ctx)),
			zap.String("error_id", se.ID),
			zap.Error(err))
		body.Message = "internal server error"
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="staff"`)
	}

	s.encode(ctx, w, status, body)
}

// encode writes v with goa's content negotiated encoder
func (s *Server) encode(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := enc.Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.String("request_id", requestID(ctx)), zap.Error(err))
	}
}

// decode reads a JSON request body into v
func (s *Server) decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return services.BadRequest("request body is required")
	}
	if err := goahttp.RequestDecoder(r).Decode(v); err != nil {
		return services.BadRequest("invalid request body: %v", err)
	}
	return nil
}
