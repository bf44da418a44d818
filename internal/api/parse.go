package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

const (
	maxBodyBytes  = 64 << 10 // total body, JSON and urlencoded
	maxFieldBytes = 10 << 10 // per field value
	maxFieldCount = 100
	maxFileBytes  = 10 << 20
	maxFileCount  = 5
)

// upload is one file part lifted out of a multipart body. Bytes are held in
// memory; the size cap keeps that bounded.
type upload struct {
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

// submitError is a terminal parse outcome mapped straight to a status code.
type submitError struct {
	status  int
	message string
}

func (e *submitError) Error() string { return e.message }

func errBadRequest(msg string) *submitError {
	return &submitError{status: http.StatusBadRequest, message: msg}
}

func errTooLarge(msg string) *submitError {
	return &submitError{status: http.StatusRequestEntityTooLarge, message: msg}
}

// parseSubmission decodes the request body into a flat string map, accepting
// JSON, urlencoded, and multipart bodies. Caps are enforced here so nothing
// oversized reaches classification or storage.
func parseSubmission(w http.ResponseWriter, r *http.Request) (map[string]string, []upload, *submitError) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil && contentType != "" {
		return nil, nil, errBadRequest("unsupported content type")
	}

	switch {
	case mediaType == "application/json":
		fields, serr := parseJSONBody(w, r)
		return fields, nil, serr
	case mediaType == "multipart/form-data":
		return parseMultipartBody(r)
	case mediaType == "application/x-www-form-urlencoded" || mediaType == "":
		fields, serr := parseURLEncodedBody(w, r)
		return fields, nil, serr
	default:
		return nil, nil, errBadRequest("unsupported content type")
	}
}

func parseJSONBody(w http.ResponseWriter, r *http.Request) (map[string]string, *submitError) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errTooLarge("request body too large")
		}
		return nil, errBadRequest("could not read request body")
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errBadRequest("invalid JSON body")
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		fields[k] = stringifyField(v)
	}
	return fields, nil
}

// stringifyField flattens a JSON value to the string form that gets stored
// and classified. Nested structures keep their JSON encoding.
func stringifyField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool, float64:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func parseURLEncodedBody(w http.ResponseWriter, r *http.Request) (map[string]string, *submitError) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errTooLarge("request body too large")
		}
		return nil, errBadRequest("invalid form body")
	}

	if len(r.PostForm) > maxFieldCount {
		return nil, errTooLarge("too many fields")
	}

	fields := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		v := strings.Join(vs, ", ")
		if len(v) > maxFieldBytes {
			return nil, errTooLarge("field value too large")
		}
		fields[k] = v
	}
	return fields, nil
}

func parseMultipartBody(r *http.Request) (map[string]string, []upload, *submitError) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return nil, nil, errBadRequest("invalid multipart body")
	}

	form := r.MultipartForm
	if len(form.Value) > maxFieldCount {
		return nil, nil, errTooLarge("too many fields")
	}

	fields := make(map[string]string, len(form.Value))
	for k, vs := range form.Value {
		v := strings.Join(vs, ", ")
		if len(v) > maxFieldBytes {
			return nil, nil, errTooLarge("field value too large")
		}
		fields[k] = v
	}

	var uploads []upload
	for field, headers := range form.File {
		for _, fh := range headers {
			if len(uploads) >= maxFileCount {
				return nil, nil, errTooLarge("too many files")
			}
			if fh.Size > maxFileBytes {
				return nil, nil, errTooLarge("file too large")
			}
			f, err := fh.Open()
			if err != nil {
				return nil, nil, errBadRequest("unreadable file part")
			}
			data, err := io.ReadAll(io.LimitReader(f, maxFileBytes+1))
			f.Close()
			if err != nil {
				return nil, nil, errBadRequest("unreadable file part")
			}
			if len(data) > maxFileBytes {
				return nil, nil, errTooLarge("file too large")
			}
			uploads = append(uploads, upload{
				FieldName:   field,
				FileName:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return fields, uploads, nil
}
