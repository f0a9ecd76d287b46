package api

import (
	"net/http"

	"github.com/blnkfinance/openbank"
	model2 "github.com/blnkfinance/openbank/api/model"
	"github.com/gin-gonic/gin"
)

func (a Api) ListAccounts(c *gin.Context) {
	accessToken := c.Query("accessToken")
	if accessToken == "" {
		badRequest(c, "accessToken is required")
		return
	}
	accounts, err := a.ob.ListAccounts(c.Request.Context(), c.Query("providerId"), accessToken)
	if err != nil {
		respondError(c, err)
		return
	}
	primary, _ := openbank.PrimaryAccount(accounts)
	respond(c, http.StatusOK, gin.H{
		"accounts": accounts,
		"primary":  primary,
	})
}

func (a Api) VerifyAccount(c *gin.Context) {
	var req model2.VerifyAccount
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "request body is not valid json")
		return
	}
	if err := req.ValidateVerifyAccount(); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := a.ob.VerifyAccount(c.Request.Context(), openbank.VerifyAccountRequest{
		ProviderID:   req.ProviderID,
		AccessToken:  req.AccessToken,
		ConsentID:    req.ConsentID,
		AccountID:    req.AccountID,
		ExpectedName: req.ExpectedName,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}
