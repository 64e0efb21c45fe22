/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idputil

import (
	"context"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/httpclient"
	"github.com/acronis/go-appkit/log"

	"github.com/introkit/go-introkit/internal/libinfo"
)

const (
	DefaultHTTPRequestTimeout          = 30 * time.Second
	DefaultHTTPRequestMaxRetryAttempts = 3
)

const TokenTypeBearer = "Bearer"

// DefaultLogger is used when no logger is passed in options.
var DefaultLogger log.FieldLogger = log.NewDisabledLogger()

func MakeDefaultHTTPClient(reqTimeout time.Duration, logger log.FieldLogger) *http.Client {
	if reqTimeout == 0 {
		reqTimeout = DefaultHTTPRequestTimeout
	}
	var tr http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	tr, _ = httpclient.NewRetryableRoundTripperWithOpts(tr, httpclient.RetryableRoundTripperOpts{
		MaxRetryAttempts: DefaultHTTPRequestMaxRetryAttempts, Logger: logger}) // error is always nil
	tr = httpclient.NewUserAgentRoundTripper(tr, libinfo.UserAgent())
	return &http.Client{Timeout: reqTimeout, Transport: tr}
}

func PrepareLogger(logger log.FieldLogger) log.FieldLogger {
	if logger == nil {
		logger = DefaultLogger
	}
	return log.NewPrefixedLogger(logger, libinfo.LogPrefix())
}

func GetLoggerFromProvider(ctx context.Context, provider func(ctx context.Context) log.FieldLogger) log.FieldLogger {
	if provider != nil {
		return PrepareLogger(provider(ctx))
	}
	return PrepareLogger(nil)
}
