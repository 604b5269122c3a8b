package mega

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bradenaw/juniper/xsync"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultHostURL is the default host of the command channel.
	DefaultHostURL = "https://g.api.mega.co.nz"

	// DefaultLinkHost is the default host of public links.
	DefaultLinkHost = "https://mega.nz"

	// DefaultAppVersion is the default app version used to communicate with the API.
	// This must be changed (using the WithAppVersion option) for production use.
	DefaultAppVersion = "go-mega"

	// DefaultWorkers is the default number of chunks transferred in parallel per file.
	DefaultWorkers = 4

	// DefaultChunkRetries is the default number of attempts per chunk.
	DefaultChunkRetries = 5
)

type managerBuilder struct {
	hostURL      string
	linkHost     string
	appVersion   string
	transport    http.RoundTripper
	retryCount   int
	logger       resty.Logger
	debug        bool
	panicHandler PanicHandler
	workers      int
	chunkRetries int
	resumeDir    string
	registerer   prometheus.Registerer
}

func newManagerBuilder() *managerBuilder {
	return &managerBuilder{
		hostURL:      DefaultHostURL,
		linkHost:     DefaultLinkHost,
		appVersion:   DefaultAppVersion,
		transport:    http.DefaultTransport,
		retryCount:   3,
		logger:       nil,
		debug:        false,
		panicHandler: NoopPanicHandler{},
		workers:      DefaultWorkers,
		chunkRetries: DefaultChunkRetries,
		resumeDir:    filepath.Join(os.TempDir(), "go-mega-resume"),
	}
}

func (builder *managerBuilder) build() *Manager {
	m := &Manager{
		rc: resty.New(),

		linkHost:     builder.linkHost,
		workers:      builder.workers,
		chunkRetries: builder.chunkRetries,
		resumeDir:    builder.resumeDir,

		panicHandler: builder.panicHandler,
		metrics:      newTransferMetrics(builder.registerer),

		builder: *builder,
	}

	m.seq.Store(randomSeq())

	// Set the API host.
	m.rc.SetBaseURL(builder.hostURL)

	// Set the transport.
	m.rc.SetTransport(builder.transport)

	// Set the logger.
	if builder.logger != nil {
		m.rc.SetLogger(builder.logger)
	}

	// Set the debug flag.
	m.rc.SetDebug(builder.debug)

	// Set app version in header.
	m.rc.OnBeforeRequest(builder.setAppVersion)

	// Set middleware.
	m.rc.OnAfterResponse(catchAPIError)

	// Configure retry mechanism. Only responses that guarantee the command was not
	// processed are retried; commands are never replayed after a transport failure.
	m.rc.SetRetryCount(builder.retryCount)
	m.rc.SetRetryMaxWaitTime(time.Minute)
	m.rc.AddRetryCondition(catchErrorsToRetry)
	m.rc.SetRetryAfter(catchRetryAfter)

	m.tc = xsync.Lazy(func() *resty.Client {
		tc := resty.New()

		tc.SetTransport(builder.transport)
		tc.SetDebug(builder.debug)
		tc.OnBeforeRequest(builder.setAppVersion)
		tc.OnAfterResponse(catchAPIError)

		if builder.logger != nil {
			tc.SetLogger(builder.logger)
		}

		return tc
	})

	return m
}

func (builder *managerBuilder) setAppVersion(_ *resty.Client, req *resty.Request) error {
	req.SetHeader("x-mega-appversion", builder.appVersion)
	return nil
}

// errTransport fails every request with a configuration error, such as an unusable proxy URL.
type errTransport struct {
	err error
}

func (t errTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, t.err
}

var errNoTransport = errors.New("no transport configured")
