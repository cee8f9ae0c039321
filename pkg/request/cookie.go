package request

import (
	"fmt"
	"os"
	"path/filepath"

	cookiejar "github.com/juju/persistent-cookiejar"
	"golang.org/x/net/publicsuffix"
)

// Cookie selects the cookie jar of an operation. The zero value disables
// cookie handling.
type Cookie struct {
	// Temp derives the jar file name from the request host ("<host>.txt").
	Temp bool

	// Path is an explicit jar file. Ignored when Temp is set.
	Path string
}

// NoCookie disables cookie handling.
func NoCookie() Cookie { return Cookie{} }

// TempCookie stores cookies in "<host>.txt" under the temp directory.
func TempCookie() Cookie { return Cookie{Temp: true} }

// CookieFile stores cookies in path. A bare file name is placed under the
// temp directory.
func CookieFile(path string) Cookie { return Cookie{Path: path} }

// Enabled reports whether a jar is requested.
func (c Cookie) Enabled() bool {
	return c.Temp || c.Path != ""
}

// resolve returns the jar file for a request to rawURL. The same file is
// read on open and written on release.
func (c Cookie) resolve(rawURL, tempDir string) string {
	if !c.Enabled() {
		return ""
	}

	path := c.Path
	if c.Temp {
		path = fmt.Sprintf("%s.txt", hostOf(rawURL))
	}

	if filepath.Dir(path) == "." {
		if tempDir == "" {
			tempDir = os.TempDir()
		}
		if resolved, err := filepath.EvalSymlinks(tempDir); err == nil {
			tempDir = resolved
		}
		path = filepath.Join(tempDir, path)
	}
	return path
}

// openJar loads (or creates) the persistent jar stored at path.
func openJar(path string) (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{
		Filename:         path,
		PublicSuffixList: publicsuffix.List,
	})
	if err != nil {
		return nil, fmt.Errorf("open cookie jar %q: %w", path, err)
	}
	return jar, nil
}
