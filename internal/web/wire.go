package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/progress"
	"github.com/go-playground/validator/v10"
)

const (
	maxBodyBytes = 1 << 20
)

type scheduleRequest struct {
	SessionID string               `json:"session_id" validate:"required"`
	PlanID    string               `json:"plan_id" validate:"required"`
	Items     []domain.Card        `json:"items" validate:"required,min=1,unique=ID,dive"`
	Prior     []domain.MemoryState `json:"prior,omitempty"`
	Algo      string               `json:"algo,omitempty" validate:"omitempty,eq=sm2-lite"`
	Now       string               `json:"now,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type metaResponse struct {
	Algo    string `json:"algo" validate:"eq=sm2-lite"`
	Version string `json:"version" validate:"eq=v0"`
}

type scheduleResponse struct {
	SessionID string       `json:"session_id" validate:"required"`
	PlanID    string       `json:"plan_id" validate:"required"`
	Order     []string     `json:"order" validate:"min=1,dive,required"`
	Due       string       `json:"due" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Meta      metaResponse `json:"meta"`
}

type progressRequest struct {
	SessionID string               `json:"session_id" validate:"required"`
	CardID    string               `json:"card_id" validate:"required"`
	Action    string               `json:"action" validate:"required,oneof=grade flip reset submit"`
	Grade     *float64             `json:"grade,omitempty" validate:"omitempty,min=0,max=5"`
	At        string               `json:"at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Result    *progress.Assessment `json:"result,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// priorValidator is implemented by requests that carry client-held states.
type priorValidator interface {
	priorStates() []domain.MemoryState
}

func (r *scheduleRequest) priorStates() []domain.MemoryState { return r.Prior }

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return validationError(verrs)
		}
		return badRequest(err.Error())
	}

	if pv, ok := dst.(priorValidator); ok {
		for _, st := range pv.priorStates() {
			if err := st.Validate(); err != nil {
				return badRequest(fmt.Sprintf("invalid prior: %v", err))
			}
		}
	}
	return nil
}
