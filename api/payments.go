package api

import (
	"net/http"

	model2 "github.com/blnkfinance/openbank/api/model"
	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

func (a Api) InitiatePayment(c *gin.Context) {
	var req model2.CreatePayment
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body is not valid json")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(idempotencyHeader)
	}
	if err := req.ValidateCreatePayment(); err != nil {
		badRequest(c, err.Error())
		return
	}

	payment, err := a.ob.InitiatePayment(c.Request.Context(), req.ProviderID, req.AccessToken, req.ToPaymentRequest())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, payment)
}

func (a Api) GetPayment(c *gin.Context) {
	paymentID := c.Query("paymentId")
	accessToken := c.Query("accessToken")
	if paymentID == "" || accessToken == "" {
		badRequest(c, "paymentId and accessToken are required")
		return
	}
	payment, err := a.ob.GetPaymentStatus(c.Request.Context(), c.Query("providerId"), accessToken, paymentID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, payment)
}
