package inspect

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/multibar/networkkit/pkg/network"
	"github.com/multibar/networkkit/pkg/workstation"
)

// WorkRequest is the body of POST /v1/work.
type WorkRequest struct {
	URL     string `json:"url" binding:"required"`
	Method  string `json:"method"`
	Kind    string `json:"kind"`
	Session string `json:"session"`
	Body    []byte `json:"body"`
	Enqueue bool   `json:"enqueue"`
	ID      string `json:"id"`
}

// CancelRequest is the body of POST /v1/cancel.
type CancelRequest struct {
	URL    string `json:"url" binding:"required"`
	Method string `json:"method"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, views(s.ws.Workers()))
}

func (s *Server) listQueue(c *gin.Context) {
	c.JSON(http.StatusOK, views(s.ws.Queue()))
}

func (s *Server) getWorker(c *gin.Context) {
	id, ok := workerID(c)
	if !ok {
		return
	}
	if w := s.ws.Worker(id); w != nil {
		c.JSON(http.StatusOK, viewOf(w))
		return
	}
	if v, ok := s.result(id); ok {
		c.JSON(http.StatusOK, v)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
}

func (s *Server) toggleWorker(c *gin.Context) {
	w, ok := s.lookup(c)
	if !ok {
		return
	}
	p := s.ws.Toggle(w)
	c.JSON(http.StatusOK, newView(w.ID(), w.Source().String(), w.Work(), w.Created(), p))
}

func (s *Server) cancelWorker(c *gin.Context) {
	w, ok := s.lookup(c)
	if !ok {
		return
	}
	s.ws.Cancel(w)
	s.opts.Logger.Info("worker cancelled", "id", w.ID(), "subject", c.GetString("subject"))
	c.Status(http.StatusNoContent)
}

func (s *Server) cancelRequest(c *gin.Context) {
	var body CancelRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	req, err := s.request(body.URL, body.Method, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.ws.CancelAll(req)
	c.Status(http.StatusNoContent)
}

func (s *Server) submitWork(c *gin.Context) {
	var body WorkRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	kind, ok := parseKind(body.Kind)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind " + body.Kind})
		return
	}
	session, ok := parseSession(body.Session)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown session " + body.Session})
		return
	}

	id := uuid.New()
	if body.ID != "" {
		parsed, err := uuid.Parse(body.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		id = parsed
	}

	method := body.Method
	if method == "" && kind == workstation.KindUpload {
		method = string(network.MethodPost)
	}
	requestBody := body.Body
	if kind == workstation.KindUpload {
		requestBody = nil
	}
	req, err := s.request(body.URL, method, requestBody)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var work workstation.Work
	switch kind {
	case workstation.KindDownload:
		work = workstation.Download(req, session)
	case workstation.KindUpload:
		work = workstation.Upload(body.Body, req, session)
	default:
		work = workstation.Short(req)
	}

	s.mu.Lock()
	if _, exists := s.results[id]; exists || s.ws.Worker(id) != nil {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "worker id in use"})
		return
	}
	s.results[id] = &record{source: req.URL().String(), work: work, created: time.Now(), progress: network.Loading()}
	s.mu.Unlock()

	s.ws.Perform(work, id, body.Enqueue, s.observe)
	s.opts.Logger.Info("work submitted",
		"id", id,
		"kind", work.Kind.String(),
		"url", req.URL().String(),
		"subject", c.GetString("subject"),
	)
	c.JSON(http.StatusAccepted, gin.H{"id": id.String()})
}

// request builds a request the way the workstation's callers do.
func (s *Server) request(raw, method string, body []byte) (network.Request, error) {
	opts := []network.EndpointOption{network.WithBody(body)}
	if method != "" {
		opts = append(opts, network.WithMethod(network.Method(strings.ToUpper(method))))
	}
	if s.opts.Key != nil {
		opts = append(opts, network.WithKey(*s.opts.Key))
	}
	if s.opts.Tokens != nil {
		opts = append(opts, network.WithTokens(s.opts.Tokens))
	}
	cfg, err := network.ParseEndpoint(raw, opts...)
	if err != nil {
		return network.Request{}, err
	}
	return network.NewRequest(cfg, s.ws.Client())
}

func (s *Server) lookup(c *gin.Context) (*workstation.Worker, bool) {
	id, ok := workerID(c)
	if !ok {
		return nil, false
	}
	w := s.ws.Worker(id)
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return nil, false
	}
	return w, true
}

func workerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.UUID{}, false
	}
	return id, true
}

func parseKind(s string) (workstation.Kind, bool) {
	switch s {
	case "", "short":
		return workstation.KindShort, true
	case "download":
		return workstation.KindDownload, true
	case "upload":
		return workstation.KindUpload, true
	}
	return 0, false
}

func parseSession(s string) (workstation.Session, bool) {
	switch s {
	case "", "foreground":
		return workstation.Foreground, true
	case "background":
		return workstation.Background, true
	}
	return 0, false
}
