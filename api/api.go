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

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/blnkfinance/openbank"
	"github.com/blnkfinance/openbank/api/middleware"
	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/internal/notification"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	ob     *openbank.OpenBank
	router *gin.Engine
}

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code      apierror.ErrorCode `json:"code"`
	Message   string             `json:"message"`
	Retryable bool               `json:"retryable"`
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// respondError writes the typed error. Anything that is not an APIError is
// reported as an internal error without its text.
func respondError(c *gin.Context, err error) {
	var body ErrorBody
	code := apierror.CodeOf(err)
	body.Code = code
	body.Retryable = apierror.IsRetryable(err)
	if code == apierror.ErrInternalServer {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		notification.NotifyError(fmt.Errorf("%s %s: %w", c.Request.Method, c.FullPath(), err))
		body.Message = "an internal error occurred"
	} else {
		body.Message = errMessage(err)
	}
	c.JSON(apierror.MapErrorToHTTPStatus(err), Response{Success: false, Error: &body})
}

func errMessage(err error) string {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func badRequest(c *gin.Context, message string) {
	respondError(c, apierror.NewAPIError(apierror.ErrInvalidRequest, message, nil))
}

func (a Api) Router() *gin.Engine {
	router := a.router
	conf := a.ob.Config()

	router.GET("/health", a.Health)
	router.GET("/callback", a.Callback)

	protected := router.Group("/")
	if conf.Server.Secure {
		protected.Use(middleware.SecretKeyAuthMiddleware(conf))
	}

	protected.POST("/consent", a.CreateConsent)
	protected.GET("/consent", a.GetConsent)
	protected.POST("/consent/:id/refresh", a.RefreshConsent)
	protected.DELETE("/consent/:id", a.RevokeConsent)
	protected.POST("/token", a.ExchangeToken)

	protected.GET("/accounts", a.ListAccounts)
	protected.POST("/verify-account", a.VerifyAccount)

	protected.POST("/payments", a.InitiatePayment)
	protected.GET("/payments", a.GetPayment)
	return router
}

func NewAPI(ob *openbank.OpenBank) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf := ob.Config()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))

	r.NoRoute(func(c *gin.Context) {
		respondError(c, apierror.NewAPIError(apierror.ErrNotFound, "route not found", nil))
	})

	return &Api{ob: ob, router: r}
}

func (a Api) Health(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{
		"status":    "ok",
		"mode":      a.ob.Config().OpenBanking.Mode,
		"providers": a.ob.Providers(),
	})
}
