package request

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Payload is the data attached to a request. It is either Values
// (structured fields) or Raw (a verbatim body).
type Payload interface {
	payload()
}

// Values is a structured payload. A value may be a scalar (string, number,
// bool, fmt.Stringer), a nested Values / map[string]any, or a slice.
// String values beginning with "@" are file references on POST and PUT.
type Values map[string]any

// Raw is a request body sent verbatim.
type Raw []byte

func (Values) payload() {}
func (Raw) payload()    {}

// field is one flattened key/value pair.
type field struct {
	name  string
	value string
}

// Encode serializes v as an application/x-www-form-urlencoded string. Keys
// are sorted; nested keys are written as a[b] and list items as a[0].
func (v Values) Encode() string {
	fields := v.flatten()
	if len(fields) == 0 {
		return ""
	}

	var buf strings.Builder
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(url.QueryEscape(f.name))
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(f.value))
	}
	return buf.String()
}

// Nested reports whether any entry holds a map or slice.
func (v Values) Nested() bool {
	for _, value := range v {
		if isContainer(value) {
			return true
		}
	}
	return false
}

// Files reports whether any top-level entry is a file reference.
func (v Values) Files() bool {
	for _, value := range v {
		if s, ok := value.(string); ok && strings.HasPrefix(s, "@") {
			return true
		}
	}
	return false
}

// withAbsoluteFiles returns a copy of v where every "@path" value is
// rewritten to "@/absolute/path".
func (v Values) withAbsoluteFiles() Values {
	out := make(Values, len(v))
	for key, value := range v {
		if s, ok := value.(string); ok && strings.HasPrefix(s, "@") {
			path := strings.TrimPrefix(s, "@")
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			out[key] = "@" + path
			continue
		}
		out[key] = value
	}
	return out
}

func (v Values) flatten() []field {
	var fields []field
	for _, key := range sortedKeys(v) {
		fields = appendFields(fields, key, v[key])
	}
	return fields
}

func appendFields(fields []field, name string, value any) []field {
	switch val := value.(type) {
	case nil:
		return fields
	case Values:
		for _, key := range sortedKeys(val) {
			fields = appendFields(fields, name+"["+key+"]", val[key])
		}
		return fields
	case map[string]any:
		return appendFields(fields, name, Values(val))
	case map[string]string:
		nested := make(Values, len(val))
		for k, s := range val {
			nested[k] = s
		}
		return appendFields(fields, name, nested)
	case []byte:
		return append(fields, field{name: name, value: string(val)})
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			fields = appendFields(fields, name+"["+strconv.Itoa(i)+"]", rv.Index(i).Interface())
		}
		return fields
	}

	return append(fields, field{name: name, value: scalar(value)})
}

func scalar(value any) string {
	switch val := value.(type) {
	case string:
		return val
	case bool:
		if val {
			return "1"
		}
		return "0"
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func isContainer(value any) bool {
	switch value.(type) {
	case nil, string, []byte:
		return false
	case Values, map[string]any, map[string]string:
		return true
	}
	kind := reflect.ValueOf(value).Kind()
	return kind == reflect.Slice || kind == reflect.Array || kind == reflect.Map
}

func sortedKeys(v Values) []string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// multipartBody encodes fields as multipart/form-data. Values of the form
// "@/path" become file parts.
func multipartBody(v Values) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range v.flatten() {
		if !strings.HasPrefix(f.value, "@") {
			if err := writer.WriteField(f.name, f.value); err != nil {
				return nil, "", fmt.Errorf("write field %q: %w", f.name, err)
			}
			continue
		}

		path := strings.TrimPrefix(f.value, "@")
		if err := writeFilePart(writer, f.name, path); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func writeFilePart(writer *multipart.Writer, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload %q: %w", path, err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile(name, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file %q: %w", name, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy upload %q: %w", path, err)
	}
	return nil
}
