package server

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/bradenaw/juniper/xslices"
	"github.com/gin-gonic/gin"
)

// Call is a request received by the server, as seen by call watchers.
type Call struct {
	URL    *url.URL
	Method string
	Status int

	RequestHeader http.Header
	RequestBody   []byte

	ResponseHeader http.Header
	ResponseBody   []byte
}

type callWatcher struct {
	paths []string
	fn    func(Call)
}

func newCallWatcher(fn func(Call), paths ...string) callWatcher {
	return callWatcher{
		paths: paths,
		fn:    fn,
	}
}

// isWatching reports whether the watcher wants calls to path. A path ending in "/" matches
// everything below it; a watcher without paths wants every call.
func (w callWatcher) isWatching(path string) bool {
	if len(w.paths) == 0 {
		return true
	}

	return xslices.IndexFunc(w.paths, func(p string) bool {
		return p == path || (p[len(p)-1] == '/' && len(path) > len(p) && path[:len(p)] == p)
	}) >= 0
}

func (w callWatcher) publish(call Call) {
	w.fn(call)
}

// recordCalls hands every finished request to the watchers interested in its path.
func (s *Server) recordCalls() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqBody, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(reqBody))

		tee := &teeWriter{ResponseWriter: c.Writer}
		c.Writer = tee

		c.Next()

		s.callWatchersLock.RLock()
		defer s.callWatchersLock.RUnlock()

		call := Call{
			URL:    c.Request.URL,
			Method: c.Request.Method,
			Status: c.Writer.Status(),

			RequestHeader: c.Request.Header,
			RequestBody:   reqBody,

			ResponseHeader: c.Writer.Header(),
			ResponseBody:   tee.body.Bytes(),
		}

		for _, w := range s.callWatchers {
			if w.isWatching(call.URL.Path) {
				w.publish(call)
			}
		}
	}
}

// teeWriter keeps a copy of the response body.
type teeWriter struct {
	gin.ResponseWriter

	body bytes.Buffer
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.body.Write(b)

	return w.ResponseWriter.Write(b)
}

func (w *teeWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)

	return w.ResponseWriter.WriteString(s)
}
