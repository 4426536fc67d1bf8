package api

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"tracksched/internal/jobs"
	"tracksched/internal/kpi"
	"tracksched/internal/ops"
	"tracksched/internal/schedule"
	"tracksched/internal/storage"
	"tracksched/internal/task/engine"
	"tracksched/pkg/logx"
)

// envelope is the body of every /api/v1 response.
type envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.IsAny(err, ops.ErrInvalidInput, schedule.ErrInvalidScheduleSpec, kpi.ErrUnknownRange):
		return http.StatusBadRequest
	case errors.IsAny(err, jobs.ErrUnknownJob, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.IsAny(err, storage.ErrDuplicate, engine.ErrOverlapSkip):
		return http.StatusConflict
	case errors.IsAny(err, engine.ErrQueueFull, engine.ErrDisabled, engine.ErrStopped, engine.ErrStopping, storage.ErrDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	body := envelope{OK: false, Error: err.Error()}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		body.Hint = hints[0]
	}
	if code >= http.StatusInternalServerError {
		body.Error = http.StatusText(code)
		if code == http.StatusServiceUnavailable {
			body.Error = err.Error()
		}
		s.log.Error("request failed", logx.Err(err), logx.String("rid", c.GetString(headerRequestID)))
	}
	c.AbortWithStatusJSON(code, body)
}

func ok(c *gin.Context, code int, data any) {
	c.JSON(code, envelope{OK: true, Data: data})
}
