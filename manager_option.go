package mega

import (
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Option represents a type that can be used to configure the manager.
type Option interface {
	config(*managerBuilder)
}

func WithHostURL(hostURL string) Option {
	return &withHostURL{
		hostURL: hostURL,
	}
}

type withHostURL struct {
	hostURL string
}

func (opt withHostURL) config(builder *managerBuilder) {
	builder.hostURL = opt.hostURL
}

// WithLinkHost sets the scheme and host used when formatting exported links.
func WithLinkHost(linkHost string) Option {
	return &withLinkHost{
		linkHost: linkHost,
	}
}

type withLinkHost struct {
	linkHost string
}

func (opt withLinkHost) config(builder *managerBuilder) {
	builder.linkHost = opt.linkHost
}

func WithAppVersion(appVersion string) Option {
	return &withAppVersion{
		appVersion: appVersion,
	}
}

type withAppVersion struct {
	appVersion string
}

func (opt withAppVersion) config(builder *managerBuilder) {
	builder.appVersion = opt.appVersion
}

func WithTransport(transport http.RoundTripper) Option {
	return &withTransport{
		transport: transport,
	}
}

type withTransport struct {
	transport http.RoundTripper
}

func (opt withTransport) config(builder *managerBuilder) {
	if opt.transport == nil {
		builder.transport = errTransport{err: errNoTransport}
	} else {
		builder.transport = opt.transport
	}
}

// WithProxy tunnels every request through the proxy at proxyURL (http, https or socks5).
// An unusable proxy URL makes every request fail with the parse error.
func WithProxy(proxyURL string) Option {
	return &withProxy{
		proxyURL: proxyURL,
	}
}

type withProxy struct {
	proxyURL string
}

func (opt withProxy) config(builder *managerBuilder) {
	if transport, err := ProxyTransport(opt.proxyURL); err != nil {
		builder.transport = errTransport{err: err}
	} else {
		builder.transport = transport
	}
}

func WithRetryCount(retryCount int) Option {
	return &withRetryCount{
		retryCount: retryCount,
	}
}

type withRetryCount struct {
	retryCount int
}

func (opt withRetryCount) config(builder *managerBuilder) {
	builder.retryCount = opt.retryCount
}

func WithLogger(logger resty.Logger) Option {
	return &withLogger{
		logger: logger,
	}
}

type withLogger struct {
	logger resty.Logger
}

func (opt withLogger) config(builder *managerBuilder) {
	builder.logger = opt.logger
}

func WithDebug(debug bool) Option {
	return &withDebug{
		debug: debug,
	}
}

type withDebug struct {
	debug bool
}

func (opt withDebug) config(builder *managerBuilder) {
	builder.debug = opt.debug
}

func WithPanicHandler(panicHandler PanicHandler) Option {
	return &withPanicHandler{
		panicHandler: panicHandler,
	}
}

type withPanicHandler struct {
	panicHandler PanicHandler
}

func (opt withPanicHandler) config(builder *managerBuilder) {
	builder.panicHandler = opt.panicHandler
}

// WithWorkers sets the default number of chunks transferred in parallel for sessions
// created by the manager.
func WithWorkers(workers int) Option {
	return &withWorkers{
		workers: workers,
	}
}

type withWorkers struct {
	workers int
}

func (opt withWorkers) config(builder *managerBuilder) {
	if opt.workers > 0 {
		builder.workers = opt.workers
	}
}

// WithChunkRetries sets how many times a single chunk is attempted before the transfer fails.
func WithChunkRetries(retries int) Option {
	return &withChunkRetries{
		retries: retries,
	}
}

type withChunkRetries struct {
	retries int
}

func (opt withChunkRetries) config(builder *managerBuilder) {
	if opt.retries > 0 {
		builder.chunkRetries = opt.retries
	}
}

// WithResumeDir sets the directory holding resume state of interrupted transfers.
func WithResumeDir(dir string) Option {
	return &withResumeDir{
		dir: dir,
	}
}

type withResumeDir struct {
	dir string
}

func (opt withResumeDir) config(builder *managerBuilder) {
	builder.resumeDir = opt.dir
}

// WithMetrics registers transfer metrics with the given registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return &withMetrics{
		registerer: registerer,
	}
}

type withMetrics struct {
	registerer prometheus.Registerer
}

func (opt withMetrics) config(builder *managerBuilder) {
	builder.registerer = opt.registerer
}
