/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/blnkfinance/openbank/config"
	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"
)

const KeyHeader = "X-Openbank-Key"

func abort(c *gin.Context, status int, code apierror.ErrorCode, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":      code,
			"message":   message,
			"retryable": code == apierror.ErrRateLimited,
		},
	})
}

// RateLimitMiddleware limits requests per client IP with tollbooth. It is a
// pass-through when no rate is configured.
func RateLimitMiddleware(conf *config.Configuration) gin.HandlerFunc {
	if conf.RateLimit.RequestsPerSecond == nil || conf.RateLimit.Burst == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	ttl := time.Hour
	if conf.RateLimit.CleanupIntervalSec != nil {
		ttl = time.Duration(*conf.RateLimit.CleanupIntervalSec) * time.Second
	}

	lmt := tollbooth.NewLimiter(*conf.RateLimit.RequestsPerSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: ttl,
	})
	lmt.SetBurst(*conf.RateLimit.Burst)
	return func(c *gin.Context) {
		if httpError := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); httpError != nil {
			abort(c, http.StatusTooManyRequests, apierror.ErrRateLimited, "too many requests")
			return
		}
		c.Next()
	}
}

// SecretKeyAuthMiddleware requires the X-Openbank-Key header to match the
// configured API key, or the server secret key when no API key is set.
func SecretKeyAuthMiddleware(conf *config.Configuration) gin.HandlerFunc {
	secretKey := conf.OpenBanking.APIKey
	if secretKey == "" {
		secretKey = conf.Server.SecretKey
	}
	return func(c *gin.Context) {
		if secretKey == "" {
			abort(c, http.StatusServiceUnavailable, apierror.ErrNotConfigured, "secret key is not configured")
			return
		}

		clientSecret := c.GetHeader(KeyHeader)
		if clientSecret == "" {
			abort(c, http.StatusUnauthorized, apierror.ErrInvalidRequest, "missing secret key")
			return
		}
		if !secureCompare(secretKey, clientSecret) {
			abort(c, http.StatusUnauthorized, apierror.ErrInvalidRequest, "invalid secret key")
			return
		}
		c.Next()
	}
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
