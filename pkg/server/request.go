package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pp-content/exercise-store/pkg/exercise"
	"github.com/pp-content/exercise-store/pkg/exercise/media"
	"github.com/pp-content/exercise-store/pkg/exercise/store"
)

// multipartMemory is the part of a multipart body kept in memory; larger
// files spill to temporary files.
const multipartMemory = 8 << 20

// Matches media_<kind>[], media_<kind>[<idx>] and exercise_media_<kind>.
var uploadFieldRe = regexp.MustCompile(`^(exercise_)?media_([a-z_]+?)(?:\[(\d*)\])?$`)

// Request fields that are not copied into the payload as extra keys.
var reservedFields = map[string]struct{}{
	"id": {}, "type": {}, "title": {}, "version": {}, "pin": {}, "overrides": {},
	"items": {}, "meta": {}, "settings": {}, "media": {}, "instructions": {},
	"columns": {}, "created_at": {},
}

// decodeSaveRequest reads a save from a JSON, multipart or url-encoded body.
// The returned cleanup releases upload bodies and must be called once the
// save has finished.
func (s *Server) decodeSaveRequest(r *http.Request) (store.SaveRequest, func(), error) {
	noop := func() {}
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	fields := map[string]any{}
	var extra map[string]json.RawMessage
	var uploads []media.Upload
	cleanup := noop

	switch contentType {
	case "application/json":
		raw := map[string]json.RawMessage{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return store.SaveRequest{}, noop, bodyError(err, "is not a JSON object")
		}
		for k, v := range raw {
			if _, ok := reservedFields[k]; !ok {
				if extra == nil {
					extra = map[string]json.RawMessage{}
				}
				extra[k] = v
				continue
			}
			var decoded any
			if err := json.Unmarshal(v, &decoded); err == nil {
				fields[k] = decoded
			}
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return store.SaveRequest{}, noop, bodyError(err, "is not a valid multipart form")
		}
		for k, vs := range r.MultipartForm.Value {
			if len(vs) > 0 {
				fields[k] = vs[0]
			}
		}
		var err error
		uploads, cleanup, err = s.formUploads(r.MultipartForm)
		if err != nil {
			return store.SaveRequest{}, noop, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return store.SaveRequest{}, noop, bodyError(err, "is not a valid form")
		}
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
	}

	req, err := s.buildSaveRequest(fields)
	if err != nil {
		cleanup()
		return store.SaveRequest{}, noop, err
	}
	req.Content.Extra = extra
	req.Uploads = uploads
	return req, cleanup, nil
}

// buildSaveRequest turns loosely typed request fields into a SaveRequest.
// Structured fields may arrive decoded or as JSON strings; malformed ones
// fall back to empty values.
func (s *Server) buildSaveRequest(fields map[string]any) (store.SaveRequest, error) {
	req := store.SaveRequest{
		ID:    stringField(fields, "id"),
		Type:  strings.ToLower(stringField(fields, "type")),
		Title: stringField(fields, "title"),
	}

	if raw, ok := fields["version"]; ok && !blank(raw) {
		n, ok := exercise.LooseInt(raw)
		if !ok || n <= 0 {
			return req, fmt.Errorf("version %v: %w", raw, store.ErrInvalidVersion)
		}
		req.Version = n
	}

	if raw, ok := fields["pin"]; ok && !blank(raw) {
		pin, err := looseBool(raw)
		if err != nil {
			return req, &store.ValidationError{Field: "pin", Reason: "must be a boolean"}
		}
		req.Pin = &pin
	}

	items, ok := exercise.CoerceItems(fields["items"])
	if !ok {
		s.logger.Debug("malformed items coerced", "id", req.ID)
	}
	meta, ok := exercise.CoerceObject(fields["meta"])
	if !ok {
		s.logger.Debug("malformed meta coerced to empty object", "id", req.ID)
	}
	req.Content = exercise.Payload{
		Items:        items,
		Meta:         meta,
		Instructions: looseJSON(fields["instructions"]),
		Columns:      looseJSON(fields["columns"]),
	}
	if raw, present := fields["settings"]; present {
		req.Content.Settings, _ = exercise.CoerceObject(raw)
	}
	if raw, present := fields["media"]; present {
		req.Content.Media, _ = exercise.CoerceObject(raw)
	}
	if raw, present := fields["overrides"]; present {
		req.Overrides, _ = exercise.CoerceObject(raw)
	}
	return req, nil
}

// formUploads collects the uploaded files of a multipart form. Fields are
// visited in name order so the shared queue of a kind is deterministic.
func (s *Server) formUploads(form *multipart.Form) ([]media.Upload, func(), error) {
	names := make([]string, 0, len(form.File))
	for name := range form.File {
		names = append(names, name)
	}
	sort.Strings(names)

	var uploads []media.Upload
	var files []multipart.File
	cleanup := func() {
		for _, f := range files {
			_ = f.Close()
		}
		_ = form.RemoveAll()
	}

	for _, name := range names {
		target, ok := parseUploadField(name)
		if !ok {
			s.logger.Warn("ignoring upload field", "field", name)
			continue
		}
		for _, fh := range form.File[name] {
			f, err := fh.Open()
			if err != nil {
				cleanup()
				return nil, func() {}, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
			}
			files = append(files, f)
			u := target
			u.Filename = fh.Filename
			u.ContentType = fh.Header.Get("Content-Type")
			u.Body = f
			uploads = append(uploads, u)
		}
	}
	return uploads, cleanup, nil
}

// parseUploadField maps a multipart file field name to an upload target.
func parseUploadField(name string) (media.Upload, bool) {
	m := uploadFieldRe.FindStringSubmatch(name)
	if m == nil {
		return media.Upload{}, false
	}
	kind, ok := media.ParseKind(m[2])
	if !ok || !kind.Uploadable() {
		return media.Upload{}, false
	}
	u := media.Upload{Kind: kind, Item: -1}
	switch {
	case m[1] != "":
		if m[3] != "" {
			return media.Upload{}, false
		}
		u.Exercise = true
	case m[3] != "":
		idx, err := strconv.Atoi(m[3])
		if err != nil {
			return media.Upload{}, false
		}
		u.Item = idx
	}
	return u, true
}

// bodyError reports an unreadable request body. An oversized body keeps its
// own error so it maps to 413.
func bodyError(err error, reason string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	if errors.Is(err, io.EOF) {
		reason = "is empty"
	}
	return fmt.Errorf("%w: %v", &store.ValidationError{Field: "body", Reason: reason}, err)
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func looseBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case float64:
		return b != 0, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	default:
		return false, fmt.Errorf("not a boolean: %v", v)
	}
}

// looseJSON decodes a JSON-encoded object or array sent as a string and
// returns every other value unchanged.
func looseJSON(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return s
	}
	var out any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return s
	}
	return out
}
