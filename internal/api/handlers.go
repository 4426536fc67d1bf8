package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"tracksched/internal/model"
	"tracksched/internal/ops"
)

const (
	eventBuffer    = 64
	eventKeepalive = 25 * time.Second
)

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, envelope{OK: false, Error: "invalid id"})
		return 0, false
	}
	return id, true
}

// bind decodes the JSON body; decode and binding-tag failures are the
// caller's fault.
func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.fail(c, errors.Mark(err, ops.ErrInvalidInput))
		return false
	}
	return true
}

func (s *Server) handleStatus(c *gin.Context) {
	ok(c, http.StatusOK, s.status())
}

func (s *Server) handleListSchedules(c *gin.Context) {
	views, err := s.ops.ListSchedules(c.Request.Context(), c.Query("filter"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if views == nil {
		views = []ops.ScheduleView{}
	}
	ok(c, http.StatusOK, views)
}

func (s *Server) handleCreateSchedule(c *gin.Context) {
	var in ops.ScheduleInput
	if !s.bind(c, &in) {
		return
	}
	v, err := s.ops.CreateSchedule(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, v)
}

func (s *Server) handleGetSchedule(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	v, err := s.ops.GetSchedule(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

func (s *Server) handleEditSchedule(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	var in ops.ScheduleInput
	if !s.bind(c, &in) {
		return
	}
	v, err := s.ops.EditSchedule(c.Request.Context(), id, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

func (s *Server) handleDeleteSchedule(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	if err := s.ops.DeleteSchedule(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": id})
}

type enabledInput struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleSetEnabled(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	var in enabledInput
	if !s.bind(c, &in) {
		return
	}
	v, err := s.ops.SetEnabled(c.Request.Context(), id, *in.Enabled)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

func (s *Server) handleRunSchedule(c *gin.Context) {
	id, good := pathID(c)
	if !good {
		return
	}
	res, err := s.ops.RunSchedule(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusAccepted, res)
}

func (s *Server) handleListJobs(c *gin.Context) {
	ok(c, http.StatusOK, s.ops.Jobs())
}

func (s *Server) handleRunJob(c *gin.Context) {
	res, err := s.ops.RunJobNow(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusAccepted, res)
}

func (s *Server) handleKPI(c *gin.Context) {
	rep, err := s.ops.ComputeKPI(c.Request.Context(), c.Query("website"), c.Query("range"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}

func (s *Server) handleSweep(c *gin.Context) {
	res, err := s.ops.Sweep(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

func (s *Server) handleListWebsites(c *gin.Context) {
	sites, err := s.ops.ListWebsites(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if sites == nil {
		sites = []model.Website{}
	}
	ok(c, http.StatusOK, sites)
}

func (s *Server) handleUpsertWebsite(c *gin.Context) {
	var w model.Website
	if !s.bind(c, &w) {
		return
	}
	if err := s.ops.UpsertWebsite(c.Request.Context(), w); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, w)
}

func (s *Server) handleIngestRequestLog(c *gin.Context) {
	var in ops.RequestLogInput
	if !s.bind(c, &in) {
		return
	}
	rec, err := s.ops.AppendRequestLog(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, rec)
}

func (s *Server) handleIngestTraceReport(c *gin.Context) {
	var in ops.TraceReportInput
	if !s.bind(c, &in) {
		return
	}
	rec, err := s.ops.AppendTraceReport(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, rec)
}

// handleEvents streams bus events as SSE until the client goes away.
func (s *Server) handleEvents(c *gin.Context) {
	ch, unsubscribe := s.bus.Subscribe(eventBuffer)
	defer unsubscribe()

	keepalive := time.NewTicker(eventKeepalive)
	defer keepalive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("hello", gin.H{"time": time.Now().UTC()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent(e.Type, e)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			return true
		}
	})
}
