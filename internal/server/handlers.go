package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MrWong99/helpdesk/internal/category"
	"github.com/MrWong99/helpdesk/internal/observe"
	"github.com/MrWong99/helpdesk/internal/pipeline"
	"github.com/MrWong99/helpdesk/internal/respond"
	"github.com/MrWong99/helpdesk/pkg/types"
)

type textRequest struct {
	Request string `json:"request"`
}

type helpResponse struct {
	RequestID      string                     `json:"request_id"`
	Classification types.ClassificationResult `json:"classification"`
	Retrieval      types.RetrievalResult      `json:"retrieval"`
	Escalation     types.EscalationDecision   `json:"escalation"`
	Response       respond.Reply              `json:"response"`
}

type retrieveRequest struct {
	Request  string `json:"request"`
	K        *int   `json:"k,omitempty"`
	Category string `json:"category,omitempty"`
}

type escalationRequest struct {
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Request    string   `json:"request"`
}

type evaluateRequest struct {
	Requests []pipeline.LabeledRequest `json:"requests,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	exemplars, chunks := s.pipe.IndexSizes()
	writeJSON(w, http.StatusOK, map[string]any{
		"service":          "helpdesk",
		"version":          s.cfg.Version,
		"exemplars":        exemplars,
		"knowledge_chunks": chunks,
	})
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var res pipeline.Result
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.pipe.Process(ctx, req.Request)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	reply, err := s.gen.Respond(ctx, respond.Input{
		Request:        req.Request,
		Classification: res.Classification,
		Retrieval:      res.Retrieval,
		Escalation:     res.Escalation,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	observe.Logger(ctx).Info("server: help request answered",
		"category", res.Classification.Category,
		"confidence", res.Classification.Confidence,
		"escalated", res.Escalation.Required,
	)
	writeJSON(w, http.StatusOK, helpResponse{
		RequestID:      observe.RequestID(ctx),
		Classification: res.Classification,
		Retrieval:      res.Retrieval,
		Escalation:     res.Escalation,
		Response:       reply,
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Categories []category.Entry `json:"categories"`
	}{s.pipe.Categories().All()})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var res types.ClassificationResult
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.pipe.Classify(ctx, req.Request)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	var (
		cat    types.Category
		scoped = req.Category != ""
	)
	if scoped {
		var err error
		if cat, err = types.ParseCategory(req.Category); err != nil {
			writeError(w, r, err)
			return
		}
	}

	k := s.pipe.Config().RetrievalKDefault
	if req.K != nil {
		k = *req.K
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	var res types.RetrievalResult
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		if scoped {
			res, err = s.pipe.RetrieveForCategory(ctx, req.Request, cat, k)
		} else {
			res, err = s.pipe.Retrieve(ctx, req.Request, k)
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res == nil {
		res = types.RetrievalResult{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEscalation(w http.ResponseWriter, r *http.Request) {
	var req escalationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cat, err := types.ParseCategory(req.Category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Confidence == nil {
		writeError(w, r, fmt.Errorf("%w: confidence is required", types.ErrInvalidArgument))
		return
	}
	if err := types.CheckConfidence(*req.Confidence); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pipe.DecideEscalation(cat, *req.Confidence, req.Request))
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	set := req.Requests
	if len(set) == 0 {
		set = s.cfg.EvaluationSet
	}
	metrics, err := s.pipe.Evaluate(r.Context(), set)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}
