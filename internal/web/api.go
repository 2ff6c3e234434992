package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"surveyor/internal/model"
	"surveyor/internal/remote"
)

func (s *Server) handleSurveyList(w http.ResponseWriter, r *http.Request) {
	list, err := s.backend.ListSurveys(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []model.Survey{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSurveyCreate(w http.ResponseWriter, r *http.Request) {
	if !s.canWrite(w, r) {
		return
	}
	f, err := decodeFields(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	sv, err := s.backend.CreateSurvey(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sv)
}

func (s *Server) handleSurveyGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	sv, err := s.backend.GetSurvey(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

func (s *Server) handleSurveyUpdate(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, func(id model.ID, f remote.Fields) (any, error) {
		return s.backend.UpdateSurvey(r.Context(), id, f)
	})
}

// handleSurveyEvents serves /api/surveys/{id}/events and, without an id,
// /api/events across every survey.
func (s *Server) handleSurveyEvents(w http.ResponseWriter, r *http.Request) {
	var (
		id  model.ID
		err error
	)
	if r.PathValue("id") != "" {
		if id, err = pathID(r); err != nil {
			s.writeErr(w, r, err)
			return
		}
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			s.writeErr(w, r, remote.NewInvalidError("invalid limit "+v))
			return
		}
	}
	events, err := s.backend.ReadEvents(r.Context(), id, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGroupCreate(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, func(parent model.ID, f remote.Fields) (any, error) {
		return s.backend.CreateGroup(r.Context(), parent, f)
	})
}

func (s *Server) handleGroupUpdate(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, func(id model.ID, f remote.Fields) (any, error) {
		return s.backend.UpdateGroup(r.Context(), id, f)
	})
}

func (s *Server) handleGroupDelete(w http.ResponseWriter, r *http.Request) {
	s.delete(w, r, func(id model.ID) error { return s.backend.DeleteGroup(r.Context(), id) })
}

func (s *Server) handleQuestionCreate(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, func(parent model.ID, f remote.Fields) (any, error) {
		return s.backend.CreateQuestion(r.Context(), parent, f)
	})
}

func (s *Server) handleQuestionUpdate(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, func(id model.ID, f remote.Fields) (any, error) {
		return s.backend.UpdateQuestion(r.Context(), id, f)
	})
}

func (s *Server) handleQuestionDelete(w http.ResponseWriter, r *http.Request) {
	s.delete(w, r, func(id model.ID) error { return s.backend.DeleteQuestion(r.Context(), id) })
}

func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.canWrite(w, r) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var qs model.QuestionSettings
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&qs); err != nil {
		s.writeErr(w, r, remote.NewInvalidError("invalid JSON body: "+err.Error()))
		return
	}
	out, err := s.backend.UpdateSettings(r.Context(), id, qs)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOptionCreate(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, func(parent model.ID, f remote.Fields) (any, error) {
		return s.backend.CreateOption(r.Context(), parent, f)
	})
}

func (s *Server) handleOptionUpdate(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, func(id model.ID, f remote.Fields) (any, error) {
		return s.backend.UpdateOption(r.Context(), id, f)
	})
}

func (s *Server) handleOptionDelete(w http.ResponseWriter, r *http.Request) {
	s.delete(w, r, func(id model.ID) error { return s.backend.DeleteOption(r.Context(), id) })
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, fn func(parent model.ID, f remote.Fields) (any, error)) {
	s.withFields(w, r, http.StatusCreated, fn)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, fn func(id model.ID, f remote.Fields) (any, error)) {
	s.withFields(w, r, http.StatusOK, fn)
}

func (s *Server) withFields(w http.ResponseWriter, r *http.Request, status int, fn func(model.ID, remote.Fields) (any, error)) {
	if !s.canWrite(w, r) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	f, err := decodeFields(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out, err := fn(id, f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, status, out)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request, fn func(id model.ID) error) {
	if !s.canWrite(w, r) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := fn(id); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
