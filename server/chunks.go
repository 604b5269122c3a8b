package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

var errNoSuchFile = errors.New("no such file")

// chunkFaults decides which chunk requests fail.
type chunkFaults struct {
	// next is the number of upcoming requests to fail.
	next int

	// after is the number of requests to let through before failing every request; -1 disables it.
	after int

	// delays holds requests for the chunk at a given offset back before they are served.
	delays map[int64]time.Duration

	lock sync.Mutex
}

func (f *chunkFaults) delayAt(offset int64, d time.Duration) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.delays == nil {
		f.delays = make(map[int64]time.Duration)
	}

	f.delays[offset] = d
}

func (f *chunkFaults) delay(offset int64) time.Duration {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.delays[offset]
}

func (f *chunkFaults) failNext(n int) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.next = n
}

func (f *chunkFaults) failAfter(n int) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.after = n
}

func (f *chunkFaults) clear() {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.next, f.after, f.delays = 0, -1, nil
}

// fail reports whether the current request should fail.
func (f *chunkFaults) fail() bool {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.next > 0 {
		f.next--
		return true
	}

	switch {
	case f.after < 0:
		return false

	case f.after == 0:
		return true

	default:
		f.after--
		return false
	}
}

func (s *Server) injectChunkFaults() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.faults.fail() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}

		if offset, ok := chunkOffset(c); ok {
			if d := s.faults.delay(offset); d > 0 {
				time.Sleep(d)
			}
		}
	}
}

func (s *Server) handlePostChunk() gin.HandlerFunc {
	return func(c *gin.Context) {
		offset, err := strconv.ParseInt(c.Param("offset"), 10, 64)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		completion, err := s.b.PutChunk(c.Param("id"), offset, data)
		if err != nil {
			c.String(http.StatusOK, "%d", codeOf(err))
			return
		}

		c.String(http.StatusOK, "%s", completion)
	}
}

func (s *Server) handleGetChunk() gin.HandlerFunc {
	return func(c *gin.Context) {
		start, end, ok := parseRange(c.Param("range"))
		if !ok {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		data, err := s.b.GetBlob(c.Param("id"), start, end)
		if err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		c.Data(http.StatusOK, "application/octet-stream", data)
	}
}

func (s *Server) handlePostFileAttr() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("offset") != "0" {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		handle, err := s.b.PutAttr(c.Param("id"), data)
		if err != nil {
			c.String(http.StatusOK, "%d", codeOf(err))
			return
		}

		c.String(http.StatusOK, "%s", handle)
	}
}

func (s *Server) handleGetFileAttr() gin.HandlerFunc {
	return func(c *gin.Context) {
		data, ok := s.b.GetAttr(c.Param("handle"))
		if !ok {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}

		c.Data(http.StatusOK, "application/octet-stream", data)
	}
}

func (s *Server) handleQuark() gin.HandlerFunc {
	return func(c *gin.Context) {
		var args []string

		if input := c.Query("strInput"); input != "" {
			args = strings.Fields(input)
		}

		res, err := s.b.RunQuarkCommand(c.Param("command"), args...)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, err.Error())
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

// chunkOffset returns the file offset a chunk request is for.
func chunkOffset(c *gin.Context) (int64, bool) {
	if r := c.Param("range"); r != "" {
		start, _, ok := parseRange(r)
		return start, ok
	}

	offset, err := strconv.ParseInt(c.Param("offset"), 10, 64)

	return offset, err == nil
}

// parseRange parses an inclusive "start-end" byte range.
func parseRange(r string) (int64, int64, bool) {
	lo, hi, ok := strings.Cut(r, "-")
	if !ok {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return 0, 0, false
	}

	end, err := strconv.ParseInt(hi, 10, 64)
	if err != nil {
		return 0, 0, false
	}

	return start, end, true
}
