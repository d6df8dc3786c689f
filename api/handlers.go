package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"taglink/engine"
	"taglink/tagstore"
)

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// tagJSON is the wire representation of a tag on the admin API.
type tagJSON struct {
	ID       uint16      `json:"id"`
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Access   string      `json:"access"`
	Value    interface{} `json:"value"`
	Readable bool        `json:"readable"`
	Writable bool        `json:"writable"`
}

func toTagJSON(t tagstore.Tag) tagJSON {
	return tagJSON{
		ID:       t.ID,
		Name:     t.Name,
		Type:     t.Type().String(),
		Access:   t.Access.String(),
		Value:    t.Value.Interface(),
		Readable: t.Access.CanRead(),
		Writable: t.Access.CanWrite(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// tagIDParam parses the {id} route parameter.
func tagIDParam(r *http.Request) (uint16, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("bad tag id: %w", err)
	}
	return uint16(id), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	clientCount := 0
	if srv := s.managers.Server(); srv != nil {
		clientCount = srv.ClientCount()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"namespace":    s.managers.GetConfig().Namespace,
		"client_count": clientCount,
		"tag_count":    s.managers.Store().Len(),
	})
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags := s.managers.Store().List()
	out := make([]tagJSON, 0, len(tags))
	for _, t := range tags {
		out = append(out, toTagJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	id, err := tagIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, ok := s.managers.Store().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("tag %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, toTagJSON(t))
}

// addTagRequest is the POST /api/tags body.
type addTagRequest struct {
	ID     uint16      `json:"id"`
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Access string      `json:"access"`
	Value  interface{} `json:"value,omitempty"`
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "mutations unavailable")
		return
	}

	var req addTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}

	dataType, err := tagstore.ParseDataType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	access, err := tagstore.ParseAccess(req.Access)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := coerceValue(dataType, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tag := tagstore.Tag{ID: req.ID, Name: req.Name, Access: access, Value: value}
	if err := s.engine.AddTag(tag); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toTagJSON(tag))
}

// updateValueRequest is the PUT /api/tags/{id}/value body.
type updateValueRequest struct {
	Value interface{} `json:"value"`
}

func (s *Server) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "mutations unavailable")
		return
	}

	id, err := tagIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tag, ok := s.managers.Store().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("tag %d not found", id))
		return
	}

	var req updateValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	value, err := coerceValue(tag.Type(), req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.engine.UpdateTagValue(id, value); err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, tagstore.ErrInvalidValue):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	updated, _ := s.managers.Store().Get(id)
	writeJSON(w, http.StatusOK, toTagJSON(updated))
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "mutations unavailable")
		return
	}

	id, err := tagIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.RemoveTag(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// coerceValue converts a decoded JSON value into a typed registry value.
// JSON numbers arrive as float64; strings are parsed for numeric types so
// callers can send either form. A nil value yields the type's zero.
func coerceValue(dataType tagstore.DataType, raw interface{}) (tagstore.Value, error) {
	switch dataType {
	case tagstore.TypeInteger:
		n, err := coerceNumber(raw)
		if err != nil {
			return tagstore.Value{}, err
		}
		return tagstore.IntValue(int32(n)), nil
	case tagstore.TypeUnsigned:
		n, err := coerceNumber(raw)
		if err != nil {
			return tagstore.Value{}, err
		}
		if n < 0 {
			return tagstore.Value{}, fmt.Errorf("negative value for unsigned tag")
		}
		return tagstore.UintValue(uint32(n)), nil
	case tagstore.TypeFloat:
		n, err := coerceNumber(raw)
		if err != nil {
			return tagstore.Value{}, err
		}
		return tagstore.FloatValue(float32(n)), nil
	case tagstore.TypeString:
		switch v := raw.(type) {
		case nil:
			return tagstore.StringValue(""), nil
		case string:
			return tagstore.StringValue(v), nil
		default:
			return tagstore.Value{}, fmt.Errorf("string tag needs a string value, got %T", raw)
		}
	default:
		return tagstore.Value{}, fmt.Errorf("unknown data type")
	}
}

func coerceNumber(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("bad numeric value %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("bad numeric value of type %T", raw)
	}
}
