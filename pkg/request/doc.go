// Package request builds HTTP operations.
//
// An Operation is an opaque, re-performable handle for one outbound
// request. It carries the normalized target URL, the encoded payload, the
// resolved cookie jar file and the transport settings. Operations are
// created by a Builder and owned by exactly one component at a time: either
// the retrying executor in package client, or the parallel scheduler in
// package multi. The owner must call Release exactly once.
//
// # Building
//
//	b := request.NewBuilder(request.DefaultConfig())
//
//	// GET http://example.com/search?page=2&q=go
//	op := b.Build("http://example.com/search#top", request.Values{"q": "go", "page": 2}, "GET", request.NoCookie())
//
//	// POST multipart with a file upload and a host cookie jar in the temp dir
//	op = b.Build("http://example.com/upload", request.Values{"file": "@./report.csv"}, "post", request.TempCookie())
//
// # Defaults
//
// Operations follow up to 3 redirects (unless Config.FollowRedirects is
// off), set Referer on redirects, treat status >= 400 as a failure, open a
// fresh connection per operation, skip TLS verification, time out after
// 30 seconds and decode gzip, deflate and zstd bodies. Every default can
// be overridden with an Option.
package request
