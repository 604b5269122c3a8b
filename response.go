package mega

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Code is a protocol-level result code. Successful results are never negative.
type Code int

const (
	SuccessCode            Code = 0
	InternalError          Code = -1
	BadArguments           Code = -2
	TryAgain               Code = -3
	RateLimited            Code = -4
	Failed                 Code = -5
	TooMany                Code = -6
	OutOfRange             Code = -7
	Expired                Code = -8
	NoEntry                Code = -9
	Circular               Code = -10
	AccessDenied           Code = -11
	AlreadyExists          Code = -12
	Incomplete             Code = -13
	BadCryptoKey           Code = -14
	BadSession             Code = -15
	Blocked                Code = -16
	OverQuota              Code = -17
	TemporarilyUnavailable Code = -18
)

var codeNames = map[Code]string{
	InternalError:          "internal error",
	BadArguments:           "bad arguments",
	TryAgain:               "try again",
	RateLimited:            "rate limited",
	Failed:                 "failed",
	TooMany:                "too many",
	OutOfRange:             "out of range",
	Expired:                "expired",
	NoEntry:                "no such entry",
	Circular:               "circular linkage",
	AccessDenied:           "access denied",
	AlreadyExists:          "already exists",
	Incomplete:             "incomplete",
	BadCryptoKey:           "invalid key",
	BadSession:             "bad session id",
	Blocked:                "blocked",
	OverQuota:              "over quota",
	TemporarilyUnavailable: "temporarily unavailable",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}

	return "code " + strconv.Itoa(int(c))
}

// Error is an error code returned by the service for a single command or a whole request.
type Error struct {
	Code Code
}

func (err Error) Error() string {
	return fmt.Sprintf("API error %d: %v", int(err.Code), err.Code)
}

// IsCode reports whether err carries the given protocol code.
func IsCode(err error, code Code) bool {
	var apiErr Error

	return errors.As(err, &apiErr) && apiErr.Code == code
}

func catchAPIError(_ *resty.Client, res *resty.Response) error {
	if !res.IsError() {
		return nil
	}

	if code, ok := parseCode(res.Body()); ok {
		return fmt.Errorf("%v: %w", res.StatusCode(), Error{Code: code})
	}

	return fmt.Errorf("%v: %v", res.StatusCode(), res.Status())
}

// parseCode reports whether body is a bare negative result code.
func parseCode(body []byte) (Code, bool) {
	body = bytes.TrimSpace(body)

	if len(body) == 0 || body[0] != '-' {
		return 0, false
	}

	code, err := strconv.Atoi(string(body))
	if err != nil {
		return 0, false
	}

	return Code(code), true
}

// decodeResult decodes a single command result into res, turning negative codes into errors.
func decodeResult(raw json.RawMessage, res any) error {
	if code, ok := parseCode(raw); ok {
		return Error{Code: code}
	}

	if res == nil {
		return nil
	}

	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}

	return nil
}

// nolint:gosec
func catchRetryAfter(_ *resty.Client, res *resty.Response) (time.Duration, error) {
	// 0 and no error means default behaviour which is exponential backoff with jitter.
	if res.StatusCode() != http.StatusTooManyRequests {
		return 0, nil
	}

	// Parse the Retry-After header, or fallback to 10 seconds.
	after, err := strconv.Atoi(res.Header().Get("Retry-After"))
	if err != nil {
		after = 10
	}

	// Add some jitter to the delay.
	after += rand.Intn(3)

	logrus.WithFields(logrus.Fields{
		"pkg":    "go-mega",
		"status": res.StatusCode(),
		"url":    res.Request.URL,
		"method": res.Request.Method,
		"after":  after,
	}).Warn("Too many requests, retrying after delay")

	return time.Duration(after) * time.Second, nil
}

func catchErrorsToRetry(res *resty.Response, _ error) bool {
	if res == nil || res.RawResponse == nil {
		return false
	}

	return res.StatusCode() == http.StatusTooManyRequests || res.StatusCode() == http.StatusServiceUnavailable
}
