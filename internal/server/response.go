package server

import (
	"encoding/json"
	"errors"

	"github.com/ralt/repoindex/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Status is the JSON body of every API response
type Status struct {
	Status     string   `json:"status"`
	Message    string   `json:"message,omitempty"`
	Code       int      `json:"code"`
	Repository string   `json:"repository,omitempty"`
	Package    string   `json:"package,omitempty"`
	Version    string   `json:"version,omitempty"`
	Key        string   `json:"key,omitempty"`
	Identities []string `json:"identities,omitempty"`
	Replaced   bool     `json:"replaced,omitempty"`
}

// response is the one value a handler produces. Zero fields take the
// defaults applied by write.
type response struct {
	status      int
	contentType string
	headers     map[string]string
	body        []byte
	// status is encoded as the body when body is nil
	json *Status
}

func (r *response) write(ctx *fasthttp.RequestCtx) {
	if r.status == 0 {
		r.status = fasthttp.StatusOK
	}
	if r.body == nil && r.json != nil {
		r.json.Code = r.status
		body, err := json.Marshal(r.json)
		if err != nil {
			logrus.WithError(err).Error("Failed to encode response")
			r.status = fasthttp.StatusInternalServerError
			body = []byte(`{"status":"error","message":"internal server error","code":500}`)
		}
		r.body = body
		if r.contentType == "" {
			r.contentType = contentTypeJSON
		}
	}
	if r.contentType == "" {
		r.contentType = "application/octet-stream"
	}

	ctx.SetStatusCode(r.status)
	ctx.SetContentType(r.contentType)
	for k, v := range r.headers {
		ctx.Response.Header.Set(k, v)
	}
	if !ctx.IsHead() {
		ctx.SetBody(r.body)
	}
}

func success(status int, s Status) *response {
	s.Status = "success"
	return &response{status: status, json: &s}
}

func failure(status int, message string) *response {
	return &response{status: status, json: &Status{Status: "error", Message: message}}
}

// statusOf maps an error to the status code the client sees.
func statusOf(err error) int {
	switch models.TypeOf(err) {
	case models.ErrInvalidPackageFormat, models.ErrUnsupportedVariant, models.ErrChecksumMismatch:
		return fasthttp.StatusBadRequest
	case models.ErrNotFound:
		return fasthttp.StatusNotFound
	case models.ErrIdentityConflict:
		return fasthttp.StatusConflict
	default:
		return fasthttp.StatusInternalServerError
	}
}

func errorResponse(err error) *response {
	status := statusOf(err)
	message := err.Error()
	if status == fasthttp.StatusInternalServerError {
		// Storage details stay in the log
		message = models.TypeOf(err).String()
	}
	r := failure(status, message)
	var indexErr *models.IndexError
	if errors.As(err, &indexErr) {
		r.json.Package = indexErr.Package
	}
	return r
}
