package api

import (
	"net/http"

	"github.com/blnkfinance/openbank"
	model2 "github.com/blnkfinance/openbank/api/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (a Api) CreateConsent(c *gin.Context) {
	var req model2.CreateConsent
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body is not valid json")
		return
	}
	if err := req.ValidateCreateConsent(); err != nil {
		badRequest(c, err.Error())
		return
	}

	consent, err := a.ob.CreateConsent(c.Request.Context(), openbank.CreateConsentRequest{
		ProviderID:    req.ProviderID,
		Permissions:   req.Permissions,
		RedirectURI:   req.RedirectURI,
		UserID:        req.UserID,
		InstitutionID: req.InstitutionID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, consent)
}

func (a Api) GetConsent(c *gin.Context) {
	consentID := c.Query("consentId")
	if consentID == "" {
		badRequest(c, "consentId is required")
		return
	}
	consent, err := a.ob.GetConsentStatus(c.Request.Context(), consentID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, consent)
}

func (a Api) RefreshConsent(c *gin.Context) {
	consent, err := a.ob.RefreshConsent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, consent)
}

func (a Api) RevokeConsent(c *gin.Context) {
	consent, err := a.ob.RevokeConsent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, consent)
}

// Callback is where the bank sends the customer back. It always redirects.
func (a Api) Callback(c *gin.Context) {
	redirect, err := a.ob.HandleCallback(c.Request.Context(), openbank.CallbackParams{
		Code:      c.Query("code"),
		State:     c.Query("state"),
		Error:     c.Query("error"),
		ConsentID: c.Query("consent_id"),
	})
	if err != nil {
		logrus.WithError(err).Warn("callback did not complete")
	}
	c.Redirect(http.StatusFound, redirect)
}

func (a Api) ExchangeToken(c *gin.Context) {
	var req model2.ExchangeToken
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body is not valid json")
		return
	}
	if err := req.ValidateExchangeToken(); err != nil {
		badRequest(c, err.Error())
		return
	}
	token, err := a.ob.ExchangeToken(c.Request.Context(), req.Code, req.ConsentID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, token)
}
