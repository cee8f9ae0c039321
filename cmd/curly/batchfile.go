package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/curly/pkg/request"
)

// batchFile is the YAML layout of a request batch.
//
//	parallel: 4
//	throttle: 1s
//	defaults:
//	  method: GET
//	  headers:
//	    Accept: application/json
//	requests:
//	  - key: page-1
//	    url: https://example.com/items
//	    data: {page: 1}
//	  - key: upload
//	    url: https://example.com/upload
//	    method: POST
//	    data: {file: "@./report.csv"}
type batchFile struct {
	Parallel *int           `yaml:"parallel"`
	Throttle *time.Duration `yaml:"throttle"`
	Defaults batchRequest   `yaml:"defaults"`
	Requests []batchRequest `yaml:"requests"`
}

// batchRequest is one keyed request of a batch.
type batchRequest struct {
	Key     string            `yaml:"key"`
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Data    map[string]any    `yaml:"data"`
	Raw     string            `yaml:"raw"`
	Headers map[string]string `yaml:"headers"`
	Cookie  string            `yaml:"cookie"`
}

// loadBatchFile reads and validates a batch file.
func loadBatchFile(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errParse, err)
	}
	return parseBatchFile(data)
}

func parseBatchFile(data []byte) (*batchFile, error) {
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("%w: %v", errParse, err)
	}

	if len(bf.Requests) == 0 {
		return nil, fmt.Errorf("%w: no requests", errParse)
	}
	if bf.Parallel != nil && *bf.Parallel < 0 {
		return nil, fmt.Errorf("%w: parallel must be >= 0 (got %d)", errParse, *bf.Parallel)
	}
	if bf.Throttle != nil && *bf.Throttle < 0 {
		return nil, fmt.Errorf("%w: throttle must be >= 0 (got %s)", errParse, *bf.Throttle)
	}

	seen := make(map[string]bool, len(bf.Requests))
	for i := range bf.Requests {
		r := &bf.Requests[i]
		if r.URL == "" {
			return nil, fmt.Errorf("%w: request %d has no url", errParse, i)
		}
		if r.Key == "" {
			r.Key = r.URL
		}
		if seen[r.Key] {
			return nil, fmt.Errorf("%w: duplicate key %q", errParse, r.Key)
		}
		seen[r.Key] = true
		if r.Raw != "" && len(r.Data) > 0 {
			return nil, fmt.Errorf("%w: request %q sets both raw and data", errParse, r.Key)
		}
	}
	return &bf, nil
}

// resolved returns r with the batch defaults filled in.
func (bf *batchFile) resolved(r batchRequest) batchRequest {
	d := bf.Defaults
	if r.Method == "" {
		r.Method = d.Method
	}
	if r.Cookie == "" {
		r.Cookie = d.Cookie
	}
	if r.Raw == "" && len(r.Data) == 0 {
		r.Raw = d.Raw
		r.Data = d.Data
	}
	if len(d.Headers) > 0 {
		headers := make(map[string]string, len(d.Headers)+len(r.Headers))
		for k, v := range d.Headers {
			headers[k] = v
		}
		for k, v := range r.Headers {
			headers[k] = v
		}
		r.Headers = headers
	}
	return r
}

func (r batchRequest) payload() request.Payload {
	if r.Raw != "" {
		return request.Raw(r.Raw)
	}
	if len(r.Data) == 0 {
		return nil
	}
	return request.Values(r.Data)
}
