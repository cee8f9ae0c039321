package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/curly/internal/report"
	"github.com/Sternrassler/curly/pkg/multi"
	"github.com/Sternrassler/curly/pkg/request"
)

type getFlags struct {
	method  string
	data    []string
	raw     string
	headers []string
	cookie  string
}

func newGetCmd(a *app) *cobra.Command {
	var f getFlags

	cmd := &cobra.Command{
		Use:   "get <url>...",
		Short: "Fetch one or more URLs",
		Long: `Fetch one or more URLs.

A single URL is executed with retries (--attempts) and exponential backoff.
Several URLs are run in parallel through the scheduler, in chunks of
--parallel with an optional --throttle, without retries.

Examples:
  curly get https://example.com/api/items --data page=2 --data q=go
  curly get https://example.com/upload -X POST --data file=@./report.csv
  curly get https://example.com/a https://example.com/b --parallel 1 --throttle 1s
  curly get https://example.com/login -X POST --cookie temp --data user=me`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := f.payload()
			if err != nil {
				return err
			}
			opts, err := f.options()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return a.fetchOne(cmd, args[0], payload, f.method, f.cookieSpec(), opts)
			}
			return a.fetchMany(cmd, args, payload, f.method, f.cookieSpec(), opts)
		},
	}

	cmd.Flags().StringVarP(&f.method, "method", "X", "GET", "Request method")
	cmd.Flags().StringArrayVarP(&f.data, "data", "d", nil, "Payload field key=value; @path uploads a file on POST and PUT (repeatable)")
	cmd.Flags().StringVar(&f.raw, "raw", "", "Raw request body (excludes --data)")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, `Request header "Name: value" (repeatable)`)
	cmd.Flags().StringVar(&f.cookie, "cookie", "", `Cookie jar: "temp" for a per-host file in the cookie dir, or a file path`)
	return cmd
}

func (f getFlags) payload() (request.Payload, error) {
	if f.raw != "" && len(f.data) > 0 {
		return nil, fmt.Errorf("--raw and --data are mutually exclusive")
	}
	if f.raw != "" {
		return request.Raw(f.raw), nil
	}
	if len(f.data) == 0 {
		return nil, nil
	}
	values := make(request.Values, len(f.data))
	for _, kv := range f.data {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --data %q (want key=value)", kv)
		}
		values[k] = v
	}
	return values, nil
}

func (f getFlags) options() ([]request.Option, error) {
	headers := make(map[string]string, len(f.headers))
	for _, h := range f.headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --header %q (want \"Name: value\")", h)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headerOptions(headers), nil
}

func (f getFlags) cookieSpec() request.Cookie {
	return parseCookie(f.cookie)
}

// parseCookie maps "" to no cookies, "temp" to a per-host jar and anything
// else to a jar file path.
func parseCookie(s string) request.Cookie {
	switch s {
	case "", "none", "false":
		return request.NoCookie()
	case "temp", "true":
		return request.TempCookie()
	default:
		return request.CookieFile(s)
	}
}

func (a *app) fetchOne(cmd *cobra.Command, url string, payload request.Payload, method string, cookie request.Cookie, opts []request.Option) error {
	start := time.Now()
	res, err := a.client.Fetch(cmd.Context(), url, payload, method, cookie, a.cfg.Request.Attempts, opts...)
	if err != nil && res == nil {
		return err
	}

	if res.Deferred != nil {
		op := res.Deferred
		defer op.Release()
		fmt.Fprintf(a.out, "%s %s\n", op.Method(), op.URL())
		if len(op.Payload()) > 0 {
			fmt.Fprintf(a.out, "%s\n", op.Payload())
		}
		return nil
	}

	return a.print([]report.Row{{
		Key:    url,
		Body:   res.Body,
		Meta:   res.Meta,
		Err:    err,
		Cached: res.Cached,
	}}, time.Since(start))
}

func (a *app) fetchMany(cmd *cobra.Command, urls []string, payload request.Payload, method string, cookie request.Cookie, opts []request.Option) error {
	set := multi.NewOperationSet[string]()
	for _, url := range urls {
		op := a.client.Build(url, payload, method, cookie, opts...)
		if err := set.Add(url, op); err != nil {
			op.Release()
			a.logger.Warn().Err(err).Str("url", url).Msg("Skipping duplicate URL")
		}
	}

	start := time.Now()
	results, err := multi.FetchAll(cmd.Context(), set, a.schedulerOptions())
	if err != nil {
		return err
	}
	return a.print(report.FromResults(results), time.Since(start))
}
